package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/karastat/heatmap/internal/api"
	"github.com/karastat/heatmap/internal/config"
	"github.com/karastat/heatmap/internal/heatmap"
	"github.com/karastat/heatmap/internal/models"
	"github.com/karastat/heatmap/internal/storage"
	"github.com/karastat/heatmap/internal/store"
	"github.com/karastat/heatmap/internal/web"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
)

var flagConfig string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the heatmap server",
	Long:  "Polls the statistics database and serves the heatmap snapshot, the event stream, the WebSocket channel and the browser client.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagConfig, "config", "", "config file (default: karaheat.config next to the executable)")
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exePath), "karaheat.config"), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath := flagConfig
	if configPath == "" {
		var err error
		if configPath, err = defaultConfigPath(); err != nil {
			return err
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	api.SetExposeErrorDetails(strings.EqualFold(cfg.Advanced.LogLevel, "debug"))

	dbPath := cfg.Storage.DatabasePath
	if dbPath == "" {
		dbPath = store.DefaultDatabasePath()
	}
	source, err := store.Open(cfg.Storage.Driver, dbPath)
	if err != nil {
		return fmt.Errorf("opening statistics database: %w", err)
	}
	defer source.Close()

	var keymap *models.Keymap
	if cfg.Heatmap.KeymapFile != "" {
		if keymap, err = heatmap.LoadKeymap(cfg.Heatmap.KeymapFile); err != nil {
			return fmt.Errorf("loading keymap: %w", err)
		}
		fmt.Printf("[Keymap] Loaded %d aliases from %s\n", len(keymap.Aliases), cfg.Heatmap.KeymapFile)
	}

	// validate the normalizer name before the hub starts polling
	if _, err := heatmap.NewNormalizer(cfg.Heatmap.Normalizer, nil, cfg.Heatmap.Percentile); err != nil {
		return err
	}
	builder := heatmap.NewBuilder(cfg.Heatmap.Normalizer, cfg.Heatmap.Percentile, cfg.Heatmap.RegionSuffix, keymap)
	hub := heatmap.NewHub(source, builder, cfg.PollInterval())

	layouts, err := storage.NewLocalStore(cfg.Storage.LayoutsDirectory)
	if err != nil {
		return fmt.Errorf("initializing layout storage: %w", err)
	}

	embeddedMode := web.HasEmbeddedFiles()

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e, api.MiddlewareConfig{
		RequestLogging:   cfg.Advanced.EnableRequestLogging,
		RequestTimeout:   time.Duration(cfg.Server.RequestTimeout) * time.Second,
		Compression:      cfg.Advanced.EnableCompression,
		CompressionLevel: cfg.Advanced.CompressionLevel,
		BodyLimit:        cfg.Server.BodyLimit,
		AllowOrigins:     cfg.AllowedOrigins(),
	})

	handlers := api.NewHandlers(&api.Dependencies{
		Store:            layouts,
		Hub:              hub,
		DefaultDiagram:   web.DefaultKeyboardSVG(),
		RegionSuffix:     builder.Suffix,
		SSERetry:         cfg.SSERetry(),
		WSMaxMessageSize: int64(cfg.Advanced.WebSocketMaxMessageSize) * 1024,
		Version:          Version,
	})
	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)

	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			fmt.Printf("Warning: failed to register static routes: %v\n", err)
		}
	}

	// Event streams stay open, so there is no write timeout
	s := &http.Server{
		Addr:        cfg.GetServerAddr(),
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		IdleTimeout: time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(configPath, dbPath, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- e.StartServer(s) }()

	select {
	case err := <-serveErr:
		stop()
		<-hubDone
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	fmt.Println("[Server] Shutting down")
	// closing the hub ends every event stream and WebSocket first
	<-hubDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func printBanner(configPath, dbPath string, cfg *config.AppConfig) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           KaraStat Heatmap Server                         ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Source:     %-45s║\n", cfg.Storage.Driver)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Database:  %-46s║\n", dbPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Layouts:   %-46s║\n", cfg.Storage.LayoutsDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
}
