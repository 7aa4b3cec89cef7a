package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	event     Event
	signature string
	eventHdr  string
	body      []byte
}

func webhookReceiver(t *testing.T) (*httptest.Server, func() []received) {
	t.Helper()
	var mu sync.Mutex
	var got []received

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var ev Event
		require.NoError(t, json.Unmarshal(body, &ev))

		mu.Lock()
		got = append(got, received{
			event:     ev,
			signature: r.Header.Get("X-Arbiter-Signature"),
			eventHdr:  r.Header.Get("X-Arbiter-Event"),
			body:      body,
		})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv, drained := webhookReceiver(t)

	svc := NewService()
	svc.AddChannel(models.NotificationChannel{
		Name:   "ops",
		URL:    srv.URL,
		Active: true,
	})

	ev := NewEvent(EventVerdictIssued, "sess-1", "v1", "agent-7", map[string]interface{}{"outcome": "upheld"})
	results := svc.DispatchAll(context.Background(), ev)

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	got := drained()
	require.Len(t, got, 1)
	assert.Equal(t, string(EventVerdictIssued), got[0].event.Type)
	assert.Equal(t, "sess-1", got[0].event.SessionID)
	assert.Equal(t, string(EventVerdictIssued), got[0].eventHdr)
	assert.Empty(t, got[0].signature) // no secret configured
}

func TestWebhookHMACSignature(t *testing.T) {
	srv, drained := webhookReceiver(t)

	svc := NewService()
	svc.AddChannel(models.NotificationChannel{
		Name:   "ops",
		URL:    srv.URL,
		Secret: "hunter2",
		Active: true,
	})

	svc.Publish(context.Background(), NewEvent(EventSessionOpened, "sess-1", "v1", "agent-7", nil))

	got := drained()
	require.Len(t, got, 1)

	mac := hmac.New(sha256.New, []byte("hunter2"))
	mac.Write(got[0].body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), got[0].signature)
}

func TestSubscriptionFilter(t *testing.T) {
	srv, drained := webhookReceiver(t)

	svc := NewService()
	svc.AddChannel(models.NotificationChannel{
		Name:   "verdicts-only",
		URL:    srv.URL,
		Events: []string{string(EventVerdictIssued)},
		Active: true,
	})

	results := svc.DispatchAll(context.Background(),
		NewEvent(EventSessionOpened, "sess-1", "v1", "agent-7", nil))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Empty(t, drained())

	results = svc.DispatchAll(context.Background(),
		NewEvent(EventVerdictIssued, "sess-1", "v1", "agent-7", nil))
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Len(t, drained(), 1)
}

func TestWildcardSubscription(t *testing.T) {
	srv, drained := webhookReceiver(t)

	svc := NewService()
	svc.AddChannel(models.NotificationChannel{
		Name:   "everything",
		URL:    srv.URL,
		Events: []string{"*"},
		Active: true,
	})

	svc.Publish(context.Background(), NewEvent(EventWaiverDecided, "", "", "ops", nil))
	assert.Len(t, drained(), 1)
}

func TestInactiveChannelSkipped(t *testing.T) {
	srv, drained := webhookReceiver(t)

	svc := NewService()
	svc.AddChannel(models.NotificationChannel{
		Name:   "paused",
		URL:    srv.URL,
		Active: false,
	})

	results := svc.DispatchAll(context.Background(),
		NewEvent(EventVerdictIssued, "sess-1", "v1", "agent-7", nil))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "inactive")
	assert.Empty(t, drained())
}

func TestChannelLifecycle(t *testing.T) {
	svc := NewService()

	ch := svc.AddChannel(models.NotificationChannel{Name: "beta", Active: true, URL: "http://example.invalid"})
	assert.NotEmpty(t, ch.ID)
	assert.Equal(t, models.ChannelWebhook, ch.Kind)

	svc.AddChannel(models.NotificationChannel{Name: "alpha", Active: true, URL: "http://example.invalid"})

	list := svc.ListChannels()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)

	assert.True(t, svc.RemoveChannel(ch.ID))
	assert.False(t, svc.RemoveChannel(ch.ID))
	assert.Len(t, svc.ListChannels(), 1)
}

func TestUnknownDriverKind(t *testing.T) {
	svc := NewService()
	svc.AddChannel(models.NotificationChannel{
		Name:   "pager",
		Kind:   models.ChannelKind("pager"),
		Active: true,
	})

	results := svc.DispatchAll(context.Background(),
		NewEvent(EventVerdictIssued, "sess-1", "v1", "agent-7", nil))
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "no driver")
}

func TestWebhookRetryResendsFullBody(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		bodies = append(bodies, raw)
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := &WebhookChannelDriver{client: srv.Client(), retryDelay: time.Millisecond}
	ch := &models.NotificationChannel{
		Name:   "flaky",
		Kind:   models.ChannelWebhook,
		URL:    srv.URL,
		Active: true,
	}
	event := NewEvent(EventVerdictIssued, "session-1", "violation-1", "agent-7", nil)

	require.NoError(t, d.Send(context.Background(), ch, event))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.NotEmpty(t, bodies[1])
	assert.Equal(t, bodies[0], bodies[1])

	var got Event
	require.NoError(t, json.Unmarshal(bodies[1], &got))
	assert.Equal(t, string(EventVerdictIssued), got.Type)
	assert.Equal(t, "session-1", got.SessionID)
}
