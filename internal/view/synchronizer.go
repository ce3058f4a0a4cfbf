package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/beevik/etree"
	"github.com/karastat/heatmap/internal/models"
)

// Label styling and placement offsets.
const (
	hoverFontSize   = "16"
	hoverFill       = "#ff0"
	hoverOffsetY    = 6
	countFontSize   = "14"
	countFill       = "#fff"
	countOffsetY    = 5
	countLabelBlank = "?"
)

// Options configures a Synchronizer.
type Options struct {
	// RegionSuffix marks key region ids. Required.
	RegionSuffix string
	// Loader fetches the diagram. Required.
	Loader AssetLoader
	// Snapshot seeds the diagram before the stream opens. Optional.
	Snapshot SnapshotFetcher
	// Stream is the live push channel. Optional.
	Stream Stream
	// OnChange runs on the loop after every handler that mutated the diagram.
	OnChange func(d *Diagram)
	// QueueSize bounds the event loop queue.
	QueueSize int
}

// Stats counts what ApplyUpdates did with incoming records.
type Stats struct {
	Batches   int
	Applied   int
	Unknown   int
	Malformed int
}

// Synchronizer owns a diagram and keeps it consistent with heatmap updates,
// pointer hover and the count overlay.
//
// The handler methods (ApplyUpdates, HandlePointerMove, ToggleCountOverlay)
// touch the diagram and must run on the synchronizer's loop; the Apply,
// PointerMove and Toggle wrappers post them there from any goroutine.
type Synchronizer struct {
	opts Options
	loop *Loop

	initMu      sync.Mutex
	initialized bool

	streamMu   sync.Mutex
	streamOpen bool

	// loop-owned state
	diagram       *Diagram
	pointerMove   func(target *etree.Element)
	labels        map[string]*etree.Element
	labelOrder    []*etree.Element
	showingCounts bool
	hover         *etree.Element
	stats         Stats
}

// New creates a synchronizer. The diagram is not loaded until Initialize.
func New(opts Options) *Synchronizer {
	return &Synchronizer{
		opts:   opts,
		loop:   NewLoop(opts.QueueSize),
		labels: make(map[string]*etree.Element),
	}
}

// Loop returns the event loop all handlers run on.
func (s *Synchronizer) Loop() *Loop {
	return s.loop
}

// Run drives the loop, initializes the diagram, seeds it from the snapshot
// and opens the live stream. It blocks until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- s.loop.Run(loopCtx) }()

	if err := s.Start(ctx); err != nil {
		cancel()
		<-loopDone
		return err
	}

	<-ctx.Done()
	cancel()
	return <-loopDone
}

// Start initializes, seeds and opens the stream, in that order, so key
// regions exist before any update can target them. The loop must be running.
func (s *Synchronizer) Start(ctx context.Context) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	if s.opts.Snapshot != nil {
		records, err := s.opts.Snapshot.Fetch(ctx)
		if err != nil {
			// the stream replays the current state on connect
			fmt.Printf("[View] Snapshot unavailable, waiting for stream: %v\n", err)
		} else if err := s.Apply(ctx, records); err != nil {
			return err
		}
	}

	if s.opts.Stream == nil {
		return nil
	}
	return s.OpenLiveUpdateStream(ctx)
}

// Initialize loads and attaches the diagram and installs the pointer-move
// handler. Only the first successful call does any work; concurrent callers
// wait for it instead of loading again. The loop must be running.
func (s *Synchronizer) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized {
		return nil
	}

	// An earlier call may have given up waiting after its attach was queued.
	var attached bool
	if err := s.loop.Do(ctx, func() { attached = s.diagram != nil }); err != nil {
		return err
	}
	if attached {
		s.initialized = true
		return nil
	}

	if s.opts.Loader == nil {
		return &AssetLoadError{Source: "<none>", Err: errors.New("no asset loader configured")}
	}
	source := s.opts.Loader.Source()

	data, err := s.opts.Loader.Load(ctx)
	if err != nil {
		return &AssetLoadError{Source: source, Err: err}
	}
	diagram, err := ParseDiagram(data, s.opts.RegionSuffix)
	if err != nil {
		return &AssetLoadError{Source: source, Err: err}
	}

	if err := s.loop.Do(ctx, func() {
		if s.diagram != nil {
			return
		}
		s.diagram = diagram
		s.pointerMove = s.HandlePointerMove
	}); err != nil {
		return err
	}

	s.initialized = true
	fmt.Printf("[View] Diagram loaded from %s (%d key regions)\n", source, len(diagram.Regions()))
	return nil
}

// OpenLiveUpdateStream starts the push channel. Each delivered batch is
// applied on the loop in arrival order. Only one stream is ever opened.
func (s *Synchronizer) OpenLiveUpdateStream(ctx context.Context) error {
	if s.opts.Stream == nil {
		return ErrNoStream
	}

	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if s.streamOpen {
		return ErrStreamAlreadyOpen
	}
	s.streamOpen = true

	go func() {
		err := s.opts.Stream.Run(ctx, func(records []models.HeatmapRecord) {
			if err := s.loop.Post(func() { s.ApplyUpdates(records) }); err != nil {
				fmt.Printf("[View] Dropping batch: %v\n", err)
			}
		})
		if err != nil {
			fmt.Printf("[View] Live stream stopped: %v\n", err)
		}
	}()
	return nil
}

// Apply runs ApplyUpdates on the loop and waits for it.
func (s *Synchronizer) Apply(ctx context.Context, records []models.HeatmapRecord) error {
	return s.loop.Do(ctx, func() { s.ApplyUpdates(records) })
}

// PointerMove dispatches a pointer move over the element with the given id.
// An unknown or empty id means the pointer is over no element.
func (s *Synchronizer) PointerMove(ctx context.Context, id string) error {
	return s.loop.Do(ctx, func() {
		if s.pointerMove == nil {
			return
		}
		s.pointerMove(s.diagram.Element(id))
	})
}

// Toggle runs ToggleCountOverlay on the loop and returns the new mode.
func (s *Synchronizer) Toggle(ctx context.Context) (bool, error) {
	var on bool
	err := s.loop.Do(ctx, func() { on = s.ToggleCountOverlay() })
	return on, err
}

// Inspect runs fn on the loop with the current diagram, which is nil before
// Initialize.
func (s *Synchronizer) Inspect(ctx context.Context, fn func(d *Diagram, stats Stats)) error {
	return s.loop.Do(ctx, func() { fn(s.diagram, s.stats) })
}

// Render writes the current document to w. Before Initialize it fails.
func (s *Synchronizer) Render(ctx context.Context, w io.Writer) error {
	var err error
	if doErr := s.loop.Do(ctx, func() {
		if s.diagram == nil {
			err = errors.New("diagram not loaded")
			return
		}
		_, err = s.diagram.WriteTo(w)
	}); doErr != nil {
		return doErr
	}
	return err
}

// ApplyUpdates applies records in order. Records for ids missing from the
// diagram are skipped without error, and a later record for an id overrides
// an earlier one. Returns the number of records applied.
func (s *Synchronizer) ApplyUpdates(records []models.HeatmapRecord) int {
	if s.diagram == nil {
		return 0
	}
	s.stats.Batches++

	applied := 0
	for i, rec := range records {
		if err := validateRecord(i, rec); err != nil {
			s.stats.Malformed++
			continue
		}
		el := s.diagram.Element(rec.ID)
		if el == nil {
			s.stats.Unknown++
			continue
		}

		setFill(el, rec.Fill)
		el.CreateAttr(CountAttr, rec.Count.String())

		if label, ok := s.labels[rec.ID]; ok {
			label.SetText(rec.Count.String())
		}
		applied++
	}
	s.stats.Applied += applied

	if applied > 0 {
		s.changed()
	}
	return applied
}

// HandlePointerMove updates the hover label for a pointer over target.
// Outside every key region the label is removed; over a region without a
// count nothing changes; over a region with a count the single label shows
// that count just above the region.
func (s *Synchronizer) HandlePointerMove(target *etree.Element) {
	if s.diagram == nil {
		return
	}

	region := s.diagram.RegionOf(target)
	if region == nil {
		if s.hover != nil {
			s.diagram.Remove(s.hover)
			s.hover = nil
			s.changed()
		}
		return
	}

	count, ok := Count(region)
	if !ok {
		return
	}

	box, _ := BBox(region)

	if s.hover == nil {
		s.hover = s.diagram.CreateText()
		s.hover.CreateAttr("font-size", hoverFontSize)
		s.hover.CreateAttr("fill", hoverFill)
	}

	s.hover.SetText(count)
	s.hover.CreateAttr("x", formatCoord(box.X+box.Width/2))
	s.hover.CreateAttr("y", formatCoord(box.Y-hoverOffsetY))
	s.hover.CreateAttr("text-anchor", "middle")
	s.changed()
}

// ToggleCountOverlay flips the count overlay. Turning it on labels every key
// region with its stored count (or "?"); turning it off removes every label.
// Returns the new mode. Before Initialize it does nothing and returns false.
func (s *Synchronizer) ToggleCountOverlay() bool {
	if s.diagram == nil {
		return false
	}
	s.showingCounts = !s.showingCounts

	if s.showingCounts {
		for _, region := range s.diagram.Regions() {
			id := region.SelectAttrValue("id", "")
			box, _ := BBox(region)

			label := s.diagram.CreateText()
			label.CreateAttr("x", formatCoord(box.X+box.Width/2))
			label.CreateAttr("y", formatCoord(box.Y+box.Height/2+countOffsetY))
			label.CreateAttr("text-anchor", "middle")
			label.CreateAttr("font-size", countFontSize)
			label.CreateAttr("fill", countFill)

			text := countLabelBlank
			if count, ok := Count(region); ok {
				text = count
			}
			label.SetText(text)

			s.labels[id] = label
			s.labelOrder = append(s.labelOrder, label)
		}
	} else {
		for _, label := range s.labelOrder {
			s.diagram.Remove(label)
		}
		s.labels = make(map[string]*etree.Element)
		s.labelOrder = nil
	}

	s.changed()
	return s.showingCounts
}

func (s *Synchronizer) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange(s.diagram)
	}
}

func validateRecord(i int, rec models.HeatmapRecord) error {
	if rec.ID == "" {
		return &MalformedRecordError{Index: i, Reason: "missing id"}
	}
	return nil
}
