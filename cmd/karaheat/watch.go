package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/karastat/heatmap/internal/heatmap"
	"github.com/karastat/heatmap/internal/models"
	"github.com/karastat/heatmap/internal/view"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagOut       string
	flagCounts    bool
	flagHover     string
	flagTransport string
	flagMsgpack   bool
	flagDiagram   string
	flagSuffix    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a heatmap server and render the live diagram to a file",
	Long:  "Loads the keyboard diagram, seeds it from the snapshot endpoint and applies every pushed batch, rewriting --out after each change.",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&flagServer, "server", "http://127.0.0.1:8089", "heatmap server base URL")
	watchCmd.Flags().StringVar(&flagOut, "out", "heatmap.svg", "SVG file rewritten after every change")
	watchCmd.Flags().BoolVar(&flagCounts, "counts", false, "show the count overlay")
	watchCmd.Flags().StringVar(&flagHover, "hover", "", "keep the hover label over this element id")
	watchCmd.Flags().StringVar(&flagTransport, "transport", "sse", "push channel: sse|ws")
	watchCmd.Flags().BoolVar(&flagMsgpack, "msgpack", false, "fetch the snapshot as MessagePack")
	watchCmd.Flags().StringVar(&flagDiagram, "diagram", "", "read the diagram from this file instead of the server")
	watchCmd.Flags().StringVar(&flagSuffix, "suffix", heatmap.DefaultRegionSuffix, "key region id suffix")
}

// hoverStream re-points the hover label after every batch so it shows the
// latest count of the watched key.
type hoverStream struct {
	view.Stream
	syncer *view.Synchronizer
	id     string
}

func (h *hoverStream) Run(ctx context.Context, deliver func([]models.HeatmapRecord)) error {
	return h.Stream.Run(ctx, func(records []models.HeatmapRecord) {
		deliver(records)
		if err := h.syncer.PointerMove(ctx, h.id); err != nil && ctx.Err() == nil {
			fmt.Printf("[Watch] Hover update failed: %v\n", err)
		}
	})
}

func newStream(transport, server string) (view.Stream, error) {
	switch transport {
	case "", "sse":
		return view.NewSSEStream(server), nil
	case "ws", "websocket":
		return view.NewWSStream(server), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want sse or ws)", transport)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	stream, err := newStream(flagTransport, flagServer)
	if err != nil {
		return err
	}

	var loader view.AssetLoader = view.NewHTTPAssetLoader(flagServer)
	if flagDiagram != "" {
		loader = &view.FileAssetLoader{Path: flagDiagram}
	}

	// OnChange runs on the loop, so it only marks the output stale
	dirty := make(chan struct{}, 1)
	opts := view.Options{
		RegionSuffix: flagSuffix,
		Loader:       loader,
		Snapshot:     view.NewHTTPSnapshot(flagServer, flagMsgpack),
		Stream:       stream,
		OnChange: func(*view.Diagram) {
			select {
			case dirty <- struct{}{}:
			default:
			}
		},
	}

	var hover *hoverStream
	if flagHover != "" {
		hover = &hoverStream{Stream: stream, id: flagHover}
		opts.Stream = hover
	}
	syncer := view.New(opts)
	if hover != nil {
		hover.syncer = syncer
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withLoop(ctx, syncer, func(ctx context.Context) error {
		// the overlay is built before the first batch so its labels follow updates
		if err := syncer.Initialize(ctx); err != nil {
			return err
		}
		if flagCounts {
			if _, err := syncer.Toggle(ctx); err != nil {
				return err
			}
		}
		if err := syncer.Start(ctx); err != nil {
			return err
		}
		if hover != nil {
			if err := syncer.PointerMove(ctx, flagHover); err != nil {
				return err
			}
		}

		fmt.Printf("[Watch] Following %s over %s, writing %s\n", flagServer, flagTransport, flagOut)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-dirty:
				if err := writeRendered(ctx, syncer, flagOut); err != nil {
					fmt.Printf("[Watch] Failed to write %s: %v\n", flagOut, err)
				}
			}
		}
	})
}

// withLoop runs the synchronizer's loop while fn runs. The loop has stopped
// by the time withLoop returns, whichever way fn returned.
func withLoop(ctx context.Context, syncer *view.Synchronizer, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- syncer.Loop().Run(ctx) }()

	err := fn(ctx)
	cancel()
	if loopErr := <-loopDone; err == nil {
		err = loopErr
	}
	return err
}

// writeRendered replaces path with the current document in one rename.
func writeRendered(ctx context.Context, syncer *view.Synchronizer, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".karaheat-*.svg")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := syncer.Render(ctx, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
