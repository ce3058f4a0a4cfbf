package models

import "time"

// FileInfo represents metadata about an uploaded diagram file.
type FileInfo struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Size       int64     `json:"size" yaml:"size"`
	UploadedAt time.Time `json:"uploadedAt" yaml:"uploadedAt"`
	Regions    int       `json:"regions" yaml:"regions"` // Key regions found when the diagram was validated
	Status     string    `json:"status" yaml:"status"`   // "uploaded", "active"
}
