// Package matcher implements the adaptive batch processor: a two-phase
// match of a job sequence against one resume, combining a relational-store
// cache lookup with an adaptive batch_size/delay_ms state machine driven by
// the outcome of each concurrent slice.
package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nthiel/jobwatch/pkg/llm"
	"github.com/nthiel/jobwatch/pkg/orcherrors"
	"github.com/nthiel/jobwatch/pkg/queue"
	"github.com/nthiel/jobwatch/pkg/store"
)

// Processor scores jobs against a resume via the matching queue, adapting
// its concurrency and pacing to the queue's observed error rate.
type Processor struct {
	manager *queue.Manager
	store   *store.Store
	llm     *llm.Client
}

// New builds a Processor over the matching queue manager, relational store,
// and LLM client.
func New(manager *queue.Manager, st *store.Store, llmClient *llm.Client) *Processor {
	return &Processor{manager: manager, store: st, llm: llmClient}
}

// jobPayload is the self-contained unit of work pushed onto the matching
// queue: each job carries everything its handler needs, since the worker
// that claims it may be a different process than the one that enqueued it.
type jobPayload struct {
	ContentHash string `json:"content_hash"`
	ResumeHash  string `json:"resume_hash"`
	ResumeText  string `json:"resume_text"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Description string `json:"description"`
}

// Handle is the matching queue's worker handler: score one job against one
// resume and upsert the result. Registered once at process startup via
// queue.Manager.StartWorkers.
func (p *Processor) Handle(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var in jobPayload
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return nil, orcherrors.New(orcherrors.Fatal, "matcher.handle", fmt.Errorf("decode job payload: %w", err))
	}

	result, err := p.llm.ScoreMatch(ctx, in.ResumeText, in.Title, in.Company, in.Description)
	if err != nil {
		return nil, err
	}

	match := &store.JobMatch{
		JobID:         in.ContentHash,
		ResumeHash:    in.ResumeHash,
		Score:         clampScore(result.Score),
		Reasoning:     result.Reasoning,
		MatchedSkills: store.JSONColumn[[]string]{Value: result.MatchedSkills},
		MissingSkills: store.JSONColumn[[]string]{Value: result.MissingSkills},
		Pros:          store.JSONColumn[[]string]{Value: result.Pros},
		Cons:          store.JSONColumn[[]string]{Value: result.Cons},
	}
	saved, err := p.store.JobMatches.Upsert(ctx, match)
	if err != nil {
		return nil, orcherrors.New(orcherrors.Fatal, "matcher.handle", fmt.Errorf("upsert job match: %w", err))
	}

	out, err := json.Marshal(saved)
	if err != nil {
		return nil, orcherrors.New(orcherrors.Fatal, "matcher.handle", err)
	}
	return out, nil
}

// clampScore rounds a possibly-fractional LLM score and clamps it to
// [1,100].
func clampScore(score float64) int {
	s := int(math.Round(score))
	if s < 1 {
		return 1
	}
	if s > 100 {
		return 100
	}
	return s
}

// ProgressFunc reports Phase A/B progress to the pipeline driver, which
// converts it into tracker updates.
type ProgressFunc func(processed, total int)

// ProcessBatch runs both phases of the adaptive batch processor over jobs
// for one (run, resume) pair. Returns every resulting match (cached and
// freshly scored) plus the per-job errors that were absorbed rather than
// failing the run.
func (p *Processor) ProcessBatch(ctx context.Context, runID, subscriptionID, resumeText, resumeHash string, jobs []*store.Job, onProgress ProgressFunc) ([]*store.JobMatch, []error) {
	total := len(jobs)
	if total == 0 {
		return nil, nil
	}

	hashes := make([]string, len(jobs))
	byHash := make(map[string]*store.Job, len(jobs))
	for i, j := range jobs {
		hashes[i] = j.ContentHash
		byHash[j.ContentHash] = j
	}

	cached, err := p.store.JobMatches.BatchCacheLookup(ctx, hashes, resumeHash)
	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("batch cache lookup: %w", err))
		cached = nil
	}

	cachedByJob := make(map[string]bool, len(cached))
	matches := make([]*store.JobMatch, 0, total)
	for _, m := range cached {
		matches = append(matches, m)
		cachedByJob[m.JobID] = true
	}

	var uncached []*store.Job
	for _, j := range jobs {
		if !cachedByJob[j.ContentHash] {
			uncached = append(uncached, j)
		}
	}

	processed := len(matches)
	if onProgress != nil {
		onProgress(processed, total)
	}

	state := newAdaptState()
	for len(uncached) > 0 {
		select {
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
			return matches, errs
		default:
		}

		sliceSize := state.batchSize
		if sliceSize > len(uncached) {
			sliceSize = len(uncached)
		}
		slice := uncached[:sliceSize]
		uncached = uncached[sliceSize:]

		if state.delayMs > 0 {
			select {
			case <-time.After(time.Duration(state.delayMs) * time.Millisecond):
			case <-ctx.Done():
				errs = append(errs, ctx.Err())
				return matches, errs
			}
		}

		sliceMatches, sliceErrs, outcome := p.runSlice(ctx, runID, subscriptionID, resumeText, resumeHash, slice)
		matches = append(matches, sliceMatches...)
		errs = append(errs, sliceErrs...)
		state.apply(outcome)

		processed += len(slice)
		if onProgress != nil {
			onProgress(processed, total)
		}
	}

	return matches, errs
}

func (p *Processor) runSlice(ctx context.Context, runID, subscriptionID, resumeText, resumeHash string, slice []*store.Job) ([]*store.JobMatch, []error, sliceOutcome) {
	type outcome struct {
		match *store.JobMatch
		err   error
	}
	results := make([]outcome, len(slice))

	var wg sync.WaitGroup
	for i, job := range slice {
		wg.Add(1)
		go func(i int, job *store.Job) {
			defer wg.Done()
			payload, err := json.Marshal(jobPayload{
				ContentHash: job.ContentHash,
				ResumeHash:  resumeHash,
				ResumeText:  resumeText,
				Title:       job.Title,
				Company:     job.Company,
				Description: job.Description,
			})
			if err != nil {
				results[i] = outcome{err: orcherrors.New(orcherrors.Fatal, "matcher.process_batch", err)}
				return
			}

			out, err := p.manager.Enqueue(ctx, queue.Matching, payload, queue.PriorityScheduled, runID, subscriptionID,
				func(ctx context.Context) (json.RawMessage, error) {
					return p.Handle(ctx, &queue.Job{Payload: payload})
				})
			if err != nil {
				results[i] = outcome{err: err}
				return
			}

			var match store.JobMatch
			if err := json.Unmarshal(out, &match); err != nil {
				results[i] = outcome{err: orcherrors.New(orcherrors.Fatal, "matcher.process_batch", err)}
				return
			}
			results[i] = outcome{match: &match}
		}(i, job)
	}
	wg.Wait()

	var matches []*store.JobMatch
	var errs []error
	var o sliceOutcome
	errorCount := 0
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			errorCount++
			switch orcherrors.KindOf(r.err) {
			case orcherrors.RateLimited:
				o.rateLimited = true
			case orcherrors.Transient:
				o.providerError = true
			case orcherrors.InvalidInput, orcherrors.Cancelled, orcherrors.QueueUnavailable, orcherrors.Fatal:
				o.unclassifiedError = true
			}
			continue
		}
		matches = append(matches, r.match)
	}
	o.allSuccess = errorCount == 0

	return matches, errs, o
}
