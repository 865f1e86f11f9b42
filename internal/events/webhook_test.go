package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu       sync.Mutex
	payloads []payload
	headers  []string
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			c.mu.Lock()
			c.payloads = append(c.payloads, p)
			c.headers = append(c.headers, r.Header.Get("X-Catalog-Event"))
			c.mu.Unlock()
		}
		w.WriteHeader(status)
	}
}

func (c *capture) snapshot() []payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]payload(nil), c.payloads...)
}

func testConfig() config.WebhookConfig {
	return config.WebhookConfig{Timeout: time.Second, Concurrency: 4, RatePerSecond: 1000}
}

func enabled(b bool) *bool { return &b }

func TestWebhookNotifier_DeliversSubscribedEvents(t *testing.T) {
	var all, deletes capture
	srvAll := httptest.NewServer(all.handler(http.StatusOK))
	defer srvAll.Close()
	srvDel := httptest.NewServer(deletes.handler(http.StatusNoContent))
	defer srvDel.Close()

	n := NewWebhookNotifier(testConfig(), []config.Webhook{
		{URL: srvAll.URL, Events: []string{ProductCreated, ProductUpdated, ProductDeleted}},
		{URL: srvDel.URL, Events: []string{ProductDeleted}},
		{URL: srvDel.URL, Events: []string{ProductCreated}, Enabled: enabled(false)},
	})
	assert.Equal(t, 2, n.Subscribers())

	rec := catalog.Record{ID: 7, Name: "Widget", SKU: "W-1", Key: "w-1", Active: true}
	n.Notify(context.Background(),
		NewEvent(ProductCreated, rec),
		NewEvent(ProductUpdated, rec),
		NewEvent(ProductDeleted, rec),
	)
	require.NoError(t, n.Close(context.Background()))

	got := all.snapshot()
	require.Len(t, got, 3)
	types := map[string]bool{}
	for _, p := range got {
		types[p.Event] = true
		assert.Equal(t, int64(7), p.Data.ID)
		assert.Equal(t, "W-1", p.Data.SKU)
		assert.True(t, p.Data.Active)
		assert.False(t, p.Timestamp.IsZero())
	}
	assert.Len(t, types, 3)

	del := deletes.snapshot()
	require.Len(t, del, 1)
	assert.Equal(t, ProductDeleted, del[0].Event)
	assert.Equal(t, []string{ProductDeleted}, deletes.headers)
}

func TestWebhookNotifier_FailuresAreSwallowed(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusInternalServerError))
	defer srv.Close()

	n := NewWebhookNotifier(testConfig(), []config.Webhook{
		{URL: srv.URL, Events: []string{ProductCreated}},
		{URL: "http://127.0.0.1:1/unreachable", Events: []string{ProductCreated}},
	})
	n.Notify(context.Background(), NewEvent(ProductCreated, catalog.Record{SKU: "X"}))
	require.NoError(t, n.Close(context.Background()))

	assert.Len(t, c.snapshot(), 1)
}

func TestWebhookNotifier_NotifyAfterCloseIsDropped(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	n := NewWebhookNotifier(testConfig(), []config.Webhook{{URL: srv.URL, Events: []string{ProductCreated}}})
	require.NoError(t, n.Close(context.Background()))
	require.NoError(t, n.Close(context.Background()))

	n.Notify(context.Background(), NewEvent(ProductCreated, catalog.Record{SKU: "late"}))
	assert.Empty(t, c.snapshot())
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Notify(context.Background(), NewEvent(ProductCreated, catalog.Record{}), NewEvent(ProductUpdated, catalog.Record{}))
	r.Notify(context.Background(), NewEvent(ProductCreated, catalog.Record{}))

	assert.Len(t, r.Events(), 3)
	assert.Equal(t, 2, r.Count(ProductCreated))
	assert.Equal(t, 0, r.Count(ProductDeleted))
}

func TestWebhookNotifier_CountsDroppedEvents(t *testing.T) {
	// No delivery loop, so the buffer only drains when the test reads it.
	n := &WebhookNotifier{
		subs: []subscriber{{url: "http://example.invalid", events: map[string]bool{ProductCreated: true}}},
		ch:   make(chan Event, 2),
	}

	n.Notify(context.Background(),
		NewEvent(ProductCreated, catalog.Record{SKU: "A"}),
		NewEvent(ProductCreated, catalog.Record{SKU: "B"}),
		NewEvent(ProductCreated, catalog.Record{SKU: "C"}),
	)
	assert.Equal(t, uint64(1), n.Dropped())

	n.Notify(context.Background(), NewEvent(ProductUpdated, catalog.Record{SKU: "D"}))
	assert.Equal(t, uint64(2), n.Dropped())

	require.Len(t, n.ch, 2)
	assert.Equal(t, "A", (<-n.ch).Record.SKU)
	assert.Equal(t, "B", (<-n.ch).Record.SKU)
}
