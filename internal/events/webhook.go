// Package events delivers catalog change notifications to webhook
// subscribers. Delivery is fire-and-forget: failures are logged and never
// reach the import that produced the event.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/config"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Event types.
const (
	ProductCreated = "product.created"
	ProductUpdated = "product.updated"
	ProductDeleted = "product.deleted"
)

// bufferSize is how many events may wait for delivery before new ones are dropped.
const bufferSize = 1024

// Event is one catalog change.
type Event struct {
	Type      string
	Timestamp time.Time
	Record    catalog.Record
}

// NewEvent stamps an event with the current time.
func NewEvent(typ string, rec catalog.Record) Event {
	return Event{Type: typ, Timestamp: time.Now().UTC(), Record: rec}
}

// payload is the JSON body POSTed to subscribers.
type payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      payloadData `json:"data"`
}

type payloadData struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	SKU         string    `json:"sku"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type subscriber struct {
	url    string
	events map[string]bool
}

// WebhookNotifier posts events to the configured subscribers in the background.
type WebhookNotifier struct {
	client  *http.Client
	limiter *rate.Limiter
	subs    []subscriber

	ch     chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	eg     *errgroup.Group

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	dropped atomic.Uint64
}

// NewWebhookNotifier starts the delivery loop. Disabled hooks are ignored.
func NewWebhookNotifier(cfg config.WebhookConfig, hooks []config.Webhook) *WebhookNotifier {
	var subs []subscriber
	for _, h := range hooks {
		if !h.IsEnabled() {
			continue
		}
		s := subscriber{url: h.URL, events: make(map[string]bool, len(h.Events))}
		for _, e := range h.Events {
			s.events[e] = true
		}
		subs = append(subs, s)
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg := &errgroup.Group{}
	eg.SetLimit(concurrency)

	n := &WebhookNotifier{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, concurrency),
		subs:    subs,
		ch:      make(chan Event, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
		eg:      eg,
	}

	n.wg.Add(1)
	go n.loop()
	return n
}

// Subscribers returns the number of enabled subscribers.
func (n *WebhookNotifier) Subscribers() int {
	return len(n.subs)
}

// Notify queues events without blocking. Events are dropped when the buffer
// is full or the notifier is closed.
func (n *WebhookNotifier) Notify(_ context.Context, evts ...Event) {
	if len(n.subs) == 0 {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}

	for _, e := range evts {
		select {
		case n.ch <- e:
		default:
			total := n.dropped.Add(1)
			slog.Warn("webhook buffer full, dropping event",
				"event", e.Type,
				"sku", e.Record.SKU,
				"dropped_total", total,
			)
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (n *WebhookNotifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Close stops accepting events and waits for queued deliveries. When ctx
// expires first, in-flight requests are cancelled.
func (n *WebhookNotifier) Close(ctx context.Context) error {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.ch)
		n.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}

func (n *WebhookNotifier) loop() {
	defer n.wg.Done()

	for e := range n.ch {
		body, err := json.Marshal(toPayload(e))
		if err != nil {
			slog.Error("encode webhook payload", "event", e.Type, "error", err)
			continue
		}

		for _, s := range n.subs {
			if !s.events[e.Type] {
				continue
			}
			url, typ := s.url, e.Type
			n.eg.Go(func() error {
				n.deliver(url, typ, body)
				return nil
			})
		}
	}
	_ = n.eg.Wait()
}

func (n *WebhookNotifier) deliver(url, typ string, body []byte) {
	if err := n.limiter.Wait(n.ctx); err != nil {
		slog.Warn("webhook delivery abandoned", "url", url, "event", typ, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		slog.Error("build webhook request", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Catalog-Event", typ)

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("webhook delivery failed", "url", url, "event", typ, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Warn("webhook rejected", "url", url, "event", typ, "status", resp.StatusCode)
		return
	}
	slog.Debug("webhook delivered", "url", url, "event", typ)
}

func toPayload(e Event) payload {
	r := e.Record
	return payload{
		Event:     e.Type,
		Timestamp: e.Timestamp,
		Data: payloadData{
			ID:          r.ID,
			Name:        r.Name,
			SKU:         r.SKU,
			Description: r.Description,
			Active:      r.Active,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
		},
	}
}

// Nop discards events. Used when no subscribers are configured and in tests.
type Nop struct{}

func (Nop) Notify(context.Context, ...Event) {}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, evts ...Event) {
	r.mu.Lock()
	r.events = append(r.events, evts...)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns the number of recorded events of the given type.
func (r *Recorder) Count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}
