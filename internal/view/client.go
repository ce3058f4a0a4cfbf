package view

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/karastat/heatmap/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// Fixed paths served by the heatmap server.
const (
	DiagramPath         = "/keyboard.svg"
	SnapshotPath        = "/api/heatmap"
	SnapshotMsgpackPath = "/api/heatmap/msgpack"
	EventsPath          = "/events"
	WebSocketPath       = "/api/ws/heatmap"
)

// AssetLoader fetches the diagram markup.
type AssetLoader interface {
	Load(ctx context.Context) ([]byte, error)
	Source() string
}

// SnapshotFetcher fetches the full current heatmap once.
type SnapshotFetcher interface {
	Fetch(ctx context.Context) ([]models.HeatmapRecord, error)
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// HTTPAssetLoader downloads the diagram from the server.
type HTTPAssetLoader struct {
	URL    string
	Client *http.Client
}

// NewHTTPAssetLoader loads the diagram from baseURL's fixed diagram path.
func NewHTTPAssetLoader(baseURL string) *HTTPAssetLoader {
	return &HTTPAssetLoader{URL: joinURL(baseURL, DiagramPath)}
}

// Source implements AssetLoader.
func (l *HTTPAssetLoader) Source() string {
	return l.URL
}

// Load implements AssetLoader.
func (l *HTTPAssetLoader) Load(ctx context.Context) ([]byte, error) {
	return get(ctx, defaultClient(l.Client), l.URL, "image/svg+xml")
}

// FileAssetLoader reads the diagram from disk.
type FileAssetLoader struct {
	Path string
}

// Source implements AssetLoader.
func (l *FileAssetLoader) Source() string {
	return l.Path
}

// Load implements AssetLoader.
func (l *FileAssetLoader) Load(ctx context.Context) ([]byte, error) {
	return os.ReadFile(l.Path)
}

// HTTPSnapshot fetches the snapshot endpoint as JSON or MessagePack.
type HTTPSnapshot struct {
	URL     string
	Msgpack bool
	Client  *http.Client
}

// NewHTTPSnapshot targets baseURL's snapshot endpoint.
func NewHTTPSnapshot(baseURL string, useMsgpack bool) *HTTPSnapshot {
	path := SnapshotPath
	if useMsgpack {
		path = SnapshotMsgpackPath
	}
	return &HTTPSnapshot{URL: joinURL(baseURL, path), Msgpack: useMsgpack}
}

// Fetch implements SnapshotFetcher.
func (s *HTTPSnapshot) Fetch(ctx context.Context) ([]models.HeatmapRecord, error) {
	accept := "application/json"
	if s.Msgpack {
		accept = "application/msgpack"
	}
	body, err := get(ctx, defaultClient(s.Client), s.URL, accept)
	if err != nil {
		return nil, &StreamError{Op: "snapshot", URL: s.URL, Err: err}
	}

	if s.Msgpack {
		records, err := decodeMsgpackRecords(body)
		if err != nil {
			return nil, &StreamError{Op: "snapshot", URL: s.URL, Err: err}
		}
		return records, nil
	}

	records, err := decodeRecords(body)
	if err != nil {
		return nil, &StreamError{Op: "snapshot", URL: s.URL, Err: err}
	}
	return records, nil
}

// decodeRecords parses a JSON array of heatmap records. Only a payload that is
// not an array fails; an element that cannot be read becomes a record with no
// id, which ApplyUpdates counts as malformed and skips.
func decodeRecords(payload []byte) ([]models.HeatmapRecord, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &MalformedRecordError{Index: -1, Reason: err.Error()}
	}

	records := make([]models.HeatmapRecord, len(raw))
	for i, elem := range raw {
		if err := json.Unmarshal(elem, &records[i]); err != nil {
			records[i] = models.HeatmapRecord{}
		}
	}
	return records, nil
}

// decodeMsgpackRecords is decodeRecords for the MessagePack snapshot.
func decodeMsgpackRecords(payload []byte) ([]models.HeatmapRecord, error) {
	var raw []msgpack.RawMessage
	if err := msgpack.Unmarshal(payload, &raw); err != nil {
		return nil, &MalformedRecordError{Index: -1, Reason: err.Error()}
	}

	records := make([]models.HeatmapRecord, len(raw))
	for i, elem := range raw {
		if err := msgpack.Unmarshal(elem, &records[i]); err != nil {
			records[i] = models.HeatmapRecord{}
		}
	}
	return records, nil
}

func get(ctx context.Context, client *http.Client, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
