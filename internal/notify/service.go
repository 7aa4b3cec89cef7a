// Package notify dispatches governance lifecycle events to registered
// notification channels (webhook by default; more kinds via RegisterDriver).
//
// Delivery is best-effort: a failed channel never fails the governance
// decision that produced the event.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/contracts"
	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ── Event types ─────────────────────────────────────────────

// EventType describes what happened.
type EventType string

const (
	EventSessionOpened    EventType = "session_opened"
	EventVerdictIssued    EventType = "verdict_issued"
	EventSessionCancelled EventType = "session_cancelled"
	EventAppealSubmitted  EventType = "appeal_submitted"
	EventAppealEscalated  EventType = "appeal_escalated"
	EventWaiverDecided    EventType = "waiver_decided"
	EventDebateRequested  EventType = "debate_requested"
)

// Event is the notification payload. It maps 1:1 to contracts.NotificationEvent.
type Event = contracts.NotificationEvent

// NewEvent creates an Event with the given type and fields.
func NewEvent(eventType EventType, sessionID, violationID, subject string, payload map[string]interface{}) Event {
	return Event{
		Type:        string(eventType),
		SessionID:   sessionID,
		ViolationID: violationID,
		Subject:     subject,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}
}

// ── Service ──────────────────────────────────────────────────

// Service dispatches notification events to registered channels.
type Service struct {
	client   *http.Client
	drivers  map[models.ChannelKind]contracts.ChannelDriver
	drvMu    sync.RWMutex
	channels map[string]*models.NotificationChannel
	chMu     sync.RWMutex
}

// NewService creates a notification service with the built-in webhook driver.
func NewService() *Service {
	svc := &Service{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		drivers:  make(map[models.ChannelKind]contracts.ChannelDriver),
		channels: make(map[string]*models.NotificationChannel),
	}
	svc.RegisterDriver(&WebhookChannelDriver{
		client: svc.client,
	})
	return svc
}

// RegisterDriver adds or replaces a channel driver for the given kind.
func (s *Service) RegisterDriver(driver contracts.ChannelDriver) {
	s.drvMu.Lock()
	defer s.drvMu.Unlock()
	s.drivers[driver.Kind()] = driver
	log.Info().Str("kind", string(driver.Kind())).Msg("Registered notification channel driver")
}

// GetDriver returns the driver for a given channel kind, or nil.
func (s *Service) GetDriver(kind models.ChannelKind) contracts.ChannelDriver {
	s.drvMu.RLock()
	defer s.drvMu.RUnlock()
	return s.drivers[kind]
}

// AddChannel registers a notification channel and returns its stored form.
func (s *Service) AddChannel(ch models.NotificationChannel) models.NotificationChannel {
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	}
	if ch.Kind == "" {
		ch.Kind = models.ChannelWebhook
	}
	ch.CreatedAt = time.Now().UTC()

	s.chMu.Lock()
	s.channels[ch.ID] = &ch
	s.chMu.Unlock()

	log.Info().Str("channel", ch.Name).Str("kind", string(ch.Kind)).Msg("Notification channel added")
	return ch
}

// RemoveChannel deletes a channel by id.
func (s *Service) RemoveChannel(id string) bool {
	s.chMu.Lock()
	defer s.chMu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return false
	}
	delete(s.channels, id)
	return true
}

// ListChannels returns the registered channels sorted by name.
func (s *Service) ListChannels() []models.NotificationChannel {
	s.chMu.RLock()
	defer s.chMu.RUnlock()

	out := make([]models.NotificationChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ── Dispatch ────────────────────────────────────────────────

// Publish fans the event out to every active subscribing channel
// concurrently and returns once all dispatches complete. It implements
// contracts.Publisher.
func (s *Service) Publish(ctx context.Context, event Event) {
	s.DispatchAll(ctx, event)
}

// DispatchAll sends the event to all matching channels and collects results.
func (s *Service) DispatchAll(ctx context.Context, event Event) []models.NotifyResult {
	s.chMu.RLock()
	channels := make([]*models.NotificationChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.chMu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []models.NotifyResult
	)
	for i := range channels {
		ch := channels[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := s.DispatchToChannel(ctx, ch, event)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// DispatchToChannel sends a notification event through a single channel.
func (s *Service) DispatchToChannel(ctx context.Context, channel *models.NotificationChannel, event Event) models.NotifyResult {
	result := models.NotifyResult{
		Channel:   fmt.Sprintf("%s/%s", channel.Kind, channel.Name),
		Timestamp: time.Now().UTC(),
	}

	if !channel.Active {
		result.Error = fmt.Sprintf("channel %s is inactive", channel.Name)
		return result
	}
	if !channelSubscribes(channel, event.Type) {
		result.Error = fmt.Sprintf("channel %s does not subscribe to %s events", channel.Name, event.Type)
		return result
	}

	driver := s.GetDriver(channel.Kind)
	if driver == nil {
		result.Error = fmt.Sprintf("no driver registered for channel kind %s", channel.Kind)
		log.Warn().Str("kind", string(channel.Kind)).Str("channel", channel.Name).Msg("No channel driver")
		return result
	}

	if err := driver.Send(ctx, channel, event); err != nil {
		result.Error = err.Error()
		log.Warn().Err(err).Str("channel", channel.Name).Str("event", event.Type).Msg("Channel notification failed")
		return result
	}

	result.Success = true
	log.Info().Str("channel", channel.Name).Str("event", event.Type).Str("session", event.SessionID).Msg("Notification dispatched")
	return result
}

func channelSubscribes(ch *models.NotificationChannel, eventType string) bool {
	if len(ch.Events) == 0 {
		return true // empty means "all events"
	}
	for _, e := range ch.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// ── Webhook Channel Driver (built-in) ────────────────────────

// WebhookChannelDriver sends notifications via HTTP POST to a webhook URL
// with optional HMAC-SHA256 signing. This is the default driver.
type WebhookChannelDriver struct {
	client     *http.Client
	retryDelay time.Duration // 0 = default 2s base
}

// Kind returns ChannelWebhook.
func (d *WebhookChannelDriver) Kind() models.ChannelKind {
	return models.ChannelWebhook
}

// Send posts the event as JSON to the channel's URL with optional HMAC signing.
func (d *WebhookChannelDriver) Send(ctx context.Context, channel *models.NotificationChannel, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	// HMAC-SHA256 signing if secret is configured
	signature := ""
	if channel.Secret != "" {
		mac := hmac.New(sha256.New, []byte(channel.Secret))
		mac.Write(body)
		signature = "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}

	delay := d.retryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	// Send with retries. The request is rebuilt each attempt: the body
	// reader is consumed by the transport, so a reused request would post
	// an empty body on retry.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * delay)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Arbiter-Webhook/1.0")
		req.Header.Set("X-Arbiter-Event", event.Type)
		req.Header.Set("X-Arbiter-Session", event.SessionID)
		if signature != "" {
			req.Header.Set("X-Arbiter-Signature", signature)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, channel.URL)
	}
	return fmt.Errorf("webhook failed after 3 attempts: %w", lastErr)
}
