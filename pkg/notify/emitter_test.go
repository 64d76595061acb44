package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/config"
)

func TestEmitter_NilReceiver(t *testing.T) {
	var e *Emitter

	results := e.Send(context.Background(), "C123", []MatchSummary{{JobMatchID: "jm-1"}})
	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.Error(t, results[0].Err)
}

func TestNew(t *testing.T) {
	t.Run("returns nil when bot token empty", func(t *testing.T) {
		e := New(config.NotifyConfig{BotToken: "", DefaultChannel: "C123"})
		require.Nil(t, e)
	})

	t.Run("returns nil when default channel empty", func(t *testing.T) {
		e := New(config.NotifyConfig{BotToken: "xoxb-test", DefaultChannel: ""})
		require.Nil(t, e)
	})
}

func newTestServer(t *testing.T) (*httptest.Server, *[]map[string]any) {
	var received []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		received = append(received, body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1690000000.000100"}`))
	}))
	t.Cleanup(server.Close)
	return server, &received
}

func TestEmitter_SendDeliversOneMessagePerMatch(t *testing.T) {
	server, received := newTestServer(t)
	api := goslack.New("xoxb-test", goslack.OptionAPIURL(server.URL+"/"))
	e := newWithAPI(api, "C123", 2900)

	matches := []MatchSummary{
		{JobMatchID: "jm-1", Title: "Backend Engineer", Company: "Acme", Score: 90},
		{JobMatchID: "jm-2", Title: "SRE", Company: "Globex", Score: 75},
	}
	results := e.Send(context.Background(), "", matches)

	require.Len(t, results, 2)
	for i, r := range results {
		require.True(t, r.Success, "result %d: %v", i, r.Err)
		require.Equal(t, matches[i].JobMatchID, r.JobMatchID)
	}
	require.Len(t, *received, 2)
}

func TestEmitter_SendReportsFailurePerMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	t.Cleanup(server.Close)
	api := goslack.New("xoxb-test", goslack.OptionAPIURL(server.URL+"/"))
	e := newWithAPI(api, "C123", 2900)

	results := e.Send(context.Background(), "", []MatchSummary{{JobMatchID: "jm-1"}})
	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.Error(t, results[0].Err)
}
