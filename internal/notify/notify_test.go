package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSender struct {
	name string
	err  error
	got  []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.got = append(s.got, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{EventDisputeSubmitted, " "}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventDisputeCandidate, "candidate", "m"))
	require.NoError(t, n.Notify(context.Background(), EventDisputeSubmitted, "submitted", "m"))
	require.NoError(t, n.NotifyAll(context.Background(), "all", "m"))

	assert.Equal(t, []string{"submitted", "all"}, s.got)
}

func TestNotifyContinuesPastFailingSender(t *testing.T) {
	bad := &stubSender{name: "bad", err: errors.New("boom")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, nil, discardLogger())

	err := n.Notify(context.Background(), EventRewardClaimed, "claimed", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"claimed"}, good.got)
}

func TestEnabled(t *testing.T) {
	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Enabled())
	assert.False(t, NewNotifier(nil, nil, nil, discardLogger()).Enabled())
	assert.True(t, NewNotifier([]Sender{&stubSender{}}, nil, nil, discardLogger()).Enabled())
}

func TestTelegramSender(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithAPIBase(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Dispute <submitted>", "tx 0xab&cd"))

	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "HTML", body["parse_mode"])
	assert.Equal(t, "<b>Dispute &lt;submitted&gt;</b>\ntx 0xab&amp;cd", body["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	var payload discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Reward claimed", "Dispute #3"))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "Reward claimed", payload.Embeds[0].Title)
	assert.Equal(t, "Dispute #3", payload.Embeds[0].Description)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer failing.Close()

	err := NewDiscordSender(failing.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
