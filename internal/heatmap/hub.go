package heatmap

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/karastat/heatmap/internal/models"
)

// DefaultPollInterval matches the refresh rate of the KaraStat recorder.
const DefaultPollInterval = 500 * time.Millisecond

// CountSource provides the current per-key counts.
type CountSource interface {
	KeyCounts(ctx context.Context) ([]models.KeyCount, error)
}

// Batch is one published heatmap state.
type Batch struct {
	Seq     uint64
	Records []models.HeatmapRecord
}

// Subscription receives batches from a Hub until it is unsubscribed or the
// hub stops. Only the newest undelivered batch is kept.
type Subscription struct {
	ID string
	C  <-chan Batch

	ch chan Batch
}

// Hub polls a CountSource and broadcasts the resulting heatmap batches.
type Hub struct {
	source   CountSource
	builder  *Builder
	interval time.Duration

	mu      sync.Mutex
	subs    map[string]*Subscription
	latest  *Batch
	seq     uint64
	stopped bool
}

// NewHub creates a hub. A non-positive interval selects DefaultPollInterval.
func NewHub(source CountSource, builder *Builder, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Hub{
		source:   source,
		builder:  builder,
		interval: interval,
		subs:     make(map[string]*Subscription),
	}
}

// Run polls until ctx is cancelled, then closes every subscription.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.closeAll()

	if _, err := h.Poll(ctx); err != nil {
		fmt.Printf("[Hub] Initial poll failed: %v\n", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := h.Poll(ctx); err != nil {
				fmt.Printf("[Hub] Poll failed: %v\n", err)
				continue
			}
		}
	}
}

// Poll reads the counts once and publishes the batch if it differs from the
// previous one. It returns the current records either way.
func (h *Hub) Poll(ctx context.Context) ([]models.HeatmapRecord, error) {
	data, err := h.source.KeyCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading key counts: %w", err)
	}
	records, err := h.builder.Build(data)
	if err != nil {
		return nil, fmt.Errorf("building heatmap: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.latest != nil && reflect.DeepEqual(h.latest.Records, records) {
		return h.latest.Records, nil
	}

	h.seq++
	batch := Batch{Seq: h.seq, Records: records}
	h.latest = &batch
	for _, sub := range h.subs {
		deliver(sub.ch, batch)
	}
	return records, nil
}

// Snapshot returns the latest published records, polling once if nothing
// has been published yet.
func (h *Hub) Snapshot(ctx context.Context) ([]models.HeatmapRecord, error) {
	h.mu.Lock()
	latest := h.latest
	h.mu.Unlock()

	if latest != nil {
		return latest.Records, nil
	}
	return h.Poll(ctx)
}

// Subscribe registers a new subscriber. The latest batch, if any, is queued
// immediately so late joiners start from the current state.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Batch, 1)
	sub := &Subscription{
		ID: uuid.New().String(),
		C:  ch,
		ch: ch,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		close(ch)
		return sub
	}
	if h.latest != nil {
		ch <- *h.latest
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	h.stopped = true
}

// deliver replaces any undelivered batch with the newer one. Callers hold h.mu,
// so the hub is the only writer.
func deliver(ch chan Batch, batch Batch) {
	select {
	case ch <- batch:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- batch:
	default:
	}
}
