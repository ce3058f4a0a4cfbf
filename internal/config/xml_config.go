// Package config loads the heatmap server settings from an XML file that sits
// next to the executable.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"KaraHeat"`

	Server   ServerConfig   `xml:"Server"`
	Storage  StorageConfig  `xml:"Storage"`
	Heatmap  HeatmapConfig  `xml:"Heatmap"`
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	// Requests other than event streams are cut off after this long
	RequestTimeout int    `xml:"RequestTimeoutSeconds"`
	BodyLimit      string `xml:"BodyLimit"`
}

// StorageConfig says where counts are read from and where uploaded
// diagrams are kept
type StorageConfig struct {
	Driver           string `xml:"Driver"` // sqlite or duckdb
	DatabasePath     string `xml:"DatabasePath"`
	DataDirectory    string `xml:"DataDirectory"`
	LayoutsDirectory string `xml:"LayoutsDirectory"`
}

// HeatmapConfig controls how counts become colors
type HeatmapConfig struct {
	PollIntervalMs int     `xml:"PollIntervalMs"`
	Normalizer     string  `xml:"Normalizer"` // log or percentile
	Percentile     float64 `xml:"Percentile"`
	RegionSuffix   string  `xml:"RegionSuffix"`
	KeymapFile     string  `xml:"KeymapFile"` // optional YAML alias map
}

// AdvancedConfig contains tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging"`
	EnableCompression       bool   `xml:"EnableCompression"`
	CompressionLevel        int    `xml:"CompressionLevel"`
	SSERetryMs              int    `xml:"SSERetryMs"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration. An empty DatabasePath
// means the KaraStat default location.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:           8089,
			BindAddress:    "127.0.0.1",
			EnableCORS:     true,
			AllowOrigins:   "*",
			ReadTimeout:    30,
			IdleTimeout:    120,
			RequestTimeout: 30,
			BodyLimit:      "10M",
		},
		Storage: StorageConfig{
			Driver:           "sqlite",
			DatabasePath:     "",
			DataDirectory:    "./data",
			LayoutsDirectory: "./data/layouts",
		},
		Heatmap: HeatmapConfig{
			PollIntervalMs: 500,
			Normalizer:     "log",
			Percentile:     0.95,
			RegionSuffix:   "-inner",
			KeymapFile:     "",
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			EnableRequestLogging:    true,
			EnableCompression:       true,
			CompressionLevel:        5,
			SSERetryMs:              2000,
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig reads configPath, writing the defaults there first if the file
// does not exist yet
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Unmarshal over the defaults so sections missing from older files keep sane values
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save writes the configuration as indented XML
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- KaraHeat server configuration -->\n<!-- Written with defaults on first run; edit and restart to apply -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if db := os.Getenv("KARASTAT_DB"); db != "" {
		c.Storage.DatabasePath = db
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.LayoutsDirectory = filepath.Join(dataDir, "layouts")
	}
}

// resolvePaths makes relative paths absolute against the config file location
func (c *AppConfig) resolvePaths(configDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(configDir, p)
	}

	c.Storage.DatabasePath = resolve(c.Storage.DatabasePath)
	c.Storage.DataDirectory = resolve(c.Storage.DataDirectory)
	c.Storage.LayoutsDirectory = resolve(c.Storage.LayoutsDirectory)
	c.Heatmap.KeymapFile = resolve(c.Heatmap.KeymapFile)
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// PollInterval returns the hub polling period
func (c *AppConfig) PollInterval() time.Duration {
	if c.Heatmap.PollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Heatmap.PollIntervalMs) * time.Millisecond
}

// SSERetry returns the reconnect hint sent to event stream clients
func (c *AppConfig) SSERetry() time.Duration {
	return time.Duration(c.Advanced.SSERetryMs) * time.Millisecond
}

// AllowedOrigins splits AllowOrigins, or returns nil when CORS is disabled
func (c *AppConfig) AllowedOrigins() []string {
	if !c.Server.EnableCORS {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(c.Server.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// EnsureDirectories creates the data and layout directories
func (c *AppConfig) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.DataDirectory, c.Storage.LayoutsDirectory} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
