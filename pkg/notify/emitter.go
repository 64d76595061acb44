// Package notify implements the notification emitter: it renders up
// to 10 job matches as Slack Block Kit messages and reports a per-match
// send result back to the Pipeline Driver, which alone decides whether a
// successful send earns a SentNotification ledger row.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/nthiel/jobwatch/pkg/config"
)

// sendTimeout bounds a single chat.postMessage call.
const sendTimeout = 10 * time.Second

// Emitter sends rendered match summaries to a chat channel. Nil-safe,
// a missing bot token or channel disables
// it instead of erroring at startup.
type Emitter struct {
	api            *goslack.Client
	defaultChannel string
	blockTextLimit int
	logger         *slog.Logger
}

// New builds an Emitter per cfg, or returns nil if notifications are
// disabled (cfg.Enabled() is false).
func New(cfg config.NotifyConfig) *Emitter {
	if !cfg.Enabled() {
		return nil
	}
	return &Emitter{
		api:            goslack.New(cfg.BotToken),
		defaultChannel: cfg.DefaultChannel,
		blockTextLimit: cfg.BlockTextLimit,
		logger:         slog.Default().With("component", "notify-emitter"),
	}
}

// newWithAPI builds an Emitter over a pre-constructed slack API client,
// used by tests against a mock HTTP server.
func newWithAPI(api *goslack.Client, channel string, blockTextLimit int) *Emitter {
	return &Emitter{api: api, defaultChannel: channel, blockTextLimit: blockTextLimit, logger: slog.Default()}
}

// SendResult is one match's delivery outcome.
type SendResult struct {
	JobMatchID string
	Success    bool
	Err        error
}

// Send renders and delivers each match as its own message to channel (or
// the configured default channel if channel is empty), returning a result
// per match in the same order. If the emitter is nil (disabled), every
// match fails with a descriptive error so the caller never silently drops
// notifications.
func (e *Emitter) Send(ctx context.Context, channel string, matches []MatchSummary) []SendResult {
	results := make([]SendResult, len(matches))
	if e == nil {
		for i, m := range matches {
			results[i] = SendResult{JobMatchID: m.JobMatchID, Err: fmt.Errorf("notify: emitter disabled")}
		}
		return results
	}
	if channel == "" {
		channel = e.defaultChannel
	}

	for i, m := range matches {
		blocks := e.render(m)
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, _, err := e.api.PostMessageContext(sendCtx, channel, goslack.MsgOptionBlocks(blocks...))
		cancel()
		if err != nil {
			e.logger.Error("notify: send failed", "job_match_id", m.JobMatchID, "error", err)
			results[i] = SendResult{JobMatchID: m.JobMatchID, Err: fmt.Errorf("post message: %w", err)}
			continue
		}
		results[i] = SendResult{JobMatchID: m.JobMatchID, Success: true}
	}
	return results
}

// SendText delivers a plain administrator message (e.g. a broadcast) to
// channel, bypassing match rendering entirely.
func (e *Emitter) SendText(ctx context.Context, channel, text string) error {
	if e == nil {
		return fmt.Errorf("notify: emitter disabled")
	}
	if channel == "" {
		channel = e.defaultChannel
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_, _, err := e.api.PostMessageContext(sendCtx, channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

func (e *Emitter) render(m MatchSummary) []goslack.Block {
	body := renderBody(m, e.blockTextLimit)
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		),
	}
}
