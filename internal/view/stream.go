package view

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/karastat/heatmap/internal/models"
)

// Stream delivers heatmap batches in arrival order until ctx is cancelled.
type Stream interface {
	Run(ctx context.Context, deliver func([]models.HeatmapRecord)) error
}

// Reconnect delays used when a stream does not set its own.
const (
	DefaultInitialRetry = 500 * time.Millisecond
	DefaultMaxRetry     = 30 * time.Second
)

// connectFunc runs one connection. connected reports whether the connection
// was established, so the backoff can start over.
type connectFunc func(ctx context.Context) (connected bool, retryHint time.Duration, err error)

// reconnect runs connect until ctx is cancelled, waiting between attempts
// with exponential backoff. A server retry hint raises the minimum wait.
func reconnect(ctx context.Context, name string, initial, max time.Duration, connect connectFunc) error {
	if initial <= 0 {
		initial = DefaultInitialRetry
	}
	if max <= 0 {
		max = DefaultMaxRetry
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Reset()

	for {
		connected, hint, err := connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		if hint > wait {
			wait = hint
		}
		fmt.Printf("[%s] Stream interrupted: %v (retrying in %s)\n", name, err, wait.Round(time.Millisecond))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// SSEStream consumes the server-sent event channel.
type SSEStream struct {
	URL          string
	Client       *http.Client
	InitialRetry time.Duration
	MaxRetry     time.Duration
}

// NewSSEStream targets baseURL's event stream.
func NewSSEStream(baseURL string) *SSEStream {
	return &SSEStream{URL: joinURL(baseURL, EventsPath)}
}

// Run implements Stream.
func (s *SSEStream) Run(ctx context.Context, deliver func([]models.HeatmapRecord)) error {
	client := s.Client
	if client == nil {
		// no overall timeout: the response body stays open for the session
		client = &http.Client{}
	}

	var lastID string
	var hint time.Duration
	return reconnect(ctx, "SSE", s.InitialRetry, s.MaxRetry, func(ctx context.Context) (bool, time.Duration, error) {
		connected, err := s.consume(ctx, client, &lastID, &hint, deliver)
		return connected, hint, err
	})
}

func (s *SSEStream) consume(ctx context.Context, client *http.Client, lastID *string, hint *time.Duration, deliver func([]models.HeatmapRecord)) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return false, &StreamError{Op: "connect", URL: s.URL, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if *lastID != "" {
		req.Header.Set("Last-Event-ID", *lastID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, &StreamError{Op: "connect", URL: s.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, &StreamError{Op: "connect", URL: s.URL, Err: fmt.Errorf("unexpected status: %s", resp.Status)}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return false, &StreamError{Op: "connect", URL: s.URL, Err: fmt.Errorf("unexpected content type: %q", ct)}
	}

	dec := newEventDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return true, &StreamError{Op: "read", URL: s.URL, Err: err}
		}
		if ev.hasID {
			*lastID = ev.ID
		}
		if ev.Retry > 0 {
			*hint = ev.Retry
		}
		if ev.Data == "" || (ev.Event != "" && ev.Event != "message") {
			continue
		}

		records, err := decodeRecords([]byte(ev.Data))
		if err != nil {
			fmt.Printf("[SSE] Dropping event: %v\n", err)
			continue
		}
		deliver(records)
	}
}

// event is one dispatched server-sent event.
type event struct {
	ID    string
	hasID bool
	Event string
	Data  string
	Retry time.Duration
}

// eventDecoder splits a text/event-stream body into events.
type eventDecoder struct {
	r *bufio.Reader
}

func newEventDecoder(r io.Reader) *eventDecoder {
	return &eventDecoder{r: bufio.NewReader(r)}
}

// Next returns the next event. Fields of an event cut off by the end of the
// stream are discarded.
func (d *eventDecoder) Next() (event, error) {
	var ev event
	var data strings.Builder
	seen := false

	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			return event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !seen {
				continue
			}
			ev.Data = strings.TrimSuffix(data.String(), "\n")
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		seen = true

		switch field {
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
		case "event":
			ev.Event = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				ev.ID = value
				ev.hasID = true
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				ev.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
}
