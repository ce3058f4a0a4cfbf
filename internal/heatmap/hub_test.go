package heatmap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/karastat/heatmap/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu     sync.Mutex
	counts []models.KeyCount
	err    error
}

func (f *fakeSource) KeyCounts(ctx context.Context) ([]models.KeyCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.KeyCount(nil), f.counts...), nil
}

func (f *fakeSource) set(counts ...models.KeyCount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = counts
}

func newTestHub(src *fakeSource) *Hub {
	return NewHub(src, NewBuilder("", 0, "", nil), 10*time.Millisecond)
}

func TestHub_PollPublishesOnChange(t *testing.T) {
	src := &fakeSource{}
	src.set(models.KeyCount{Key: "a", Count: 1})
	h := newTestHub(src)

	sub := h.Subscribe()
	defer h.Unsubscribe(sub.ID)

	_, err := h.Poll(context.Background())
	require.NoError(t, err)

	batch := <-sub.C
	assert.Equal(t, uint64(1), batch.Seq)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "a-inner", batch.Records[0].ID)

	// unchanged counts publish nothing
	_, err = h.Poll(context.Background())
	require.NoError(t, err)
	select {
	case b := <-sub.C:
		t.Fatalf("unexpected batch %d", b.Seq)
	default:
	}

	src.set(models.KeyCount{Key: "a", Count: 2})
	_, err = h.Poll(context.Background())
	require.NoError(t, err)
	batch = <-sub.C
	assert.Equal(t, uint64(2), batch.Seq)
	assert.Equal(t, models.Count("2"), batch.Records[0].Count)
}

func TestHub_SlowSubscriberKeepsNewest(t *testing.T) {
	src := &fakeSource{}
	h := newTestHub(src)
	sub := h.Subscribe()

	for i := 1; i <= 3; i++ {
		src.set(models.KeyCount{Key: "a", Count: i})
		_, err := h.Poll(context.Background())
		require.NoError(t, err)
	}

	batch := <-sub.C
	assert.Equal(t, uint64(3), batch.Seq)
	assert.Equal(t, models.Count("3"), batch.Records[0].Count)
}

func TestHub_LateSubscriberGetsLatest(t *testing.T) {
	src := &fakeSource{}
	src.set(models.KeyCount{Key: "a", Count: 7})
	h := newTestHub(src)

	_, err := h.Poll(context.Background())
	require.NoError(t, err)

	sub := h.Subscribe()
	batch := <-sub.C
	assert.Equal(t, models.Count("7"), batch.Records[0].Count)
	assert.Equal(t, 1, h.SubscriberCount())

	h.Unsubscribe(sub.ID)
	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestHub_Snapshot(t *testing.T) {
	src := &fakeSource{}
	src.set(models.KeyCount{Key: "b", Count: 4})
	h := newTestHub(src)

	records, err := h.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b-inner", records[0].ID)

	src.err = errors.New("database is locked")
	records, err = h.Snapshot(context.Background())
	require.NoError(t, err, "cached snapshot should be served")
	assert.Len(t, records, 1)
}

func TestHub_SnapshotError(t *testing.T) {
	h := newTestHub(&fakeSource{err: errors.New("no such table: key_counts")})
	_, err := h.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestHub_RunClosesSubscriptions(t *testing.T) {
	src := &fakeSource{}
	src.set(models.KeyCount{Key: "a", Count: 1})
	h := newTestHub(src)
	sub := h.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	batch := <-sub.C
	assert.Equal(t, uint64(1), batch.Seq)

	cancel()
	require.NoError(t, <-done)

	for range sub.C {
	}
	late := h.Subscribe()
	_, open := <-late.C
	assert.False(t, open)
}
