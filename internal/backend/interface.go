package backend

import (
	"context"

	"bizdash/internal/sheets"
)

// Factory creates the mirror the sync worker writes to.
type Factory interface {
	CreateMirror(ctx context.Context, config Config) (*MirrorResult, error)
}

// MirrorResult contains the created mirror and its cleanup function.
type MirrorResult struct {
	Mirror  sheets.Mirror
	Cleanup func() error
}

// Config holds configuration for mirror creation
type Config struct {
	Type BackendType

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleTabPrefix          string
}

// BackendType represents the type of mirror backend
type BackendType string

const (
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
