package view

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamAlreadyOpen is returned when a second live stream is requested.
	ErrStreamAlreadyOpen = errors.New("live update stream already open")
	// ErrNoStream is returned when the synchronizer has no stream configured.
	ErrNoStream = errors.New("no live update stream configured")
	// ErrLoopStopped is returned when work is posted to a stopped loop.
	ErrLoopStopped = errors.New("event loop stopped")
)

// AssetLoadError reports a failure to fetch or parse the diagram.
type AssetLoadError struct {
	Source string
	Err    error
}

func (e *AssetLoadError) Error() string {
	return fmt.Sprintf("loading diagram from %s: %v", e.Source, e.Err)
}

func (e *AssetLoadError) Unwrap() error {
	return e.Err
}

// StreamError reports a failure talking to the heatmap server.
type StreamError struct {
	Op  string // "snapshot", "connect" or "read"
	URL string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// MalformedRecordError describes an update payload or record that cannot be
// applied. Index is -1 when the whole payload is unreadable.
type MalformedRecordError struct {
	Index  int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Index < 0 {
		return "malformed update payload: " + e.Reason
	}
	return fmt.Sprintf("malformed update record %d: %s", e.Index, e.Reason)
}
