package backend

import (
	"context"
	"fmt"
	"log/slog"

	gsheet "bizdash/internal/sheets/google"
	"bizdash/internal/sheets/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateMirror validates config and builds the selected mirror.
func (f *DefaultFactory) CreateMirror(ctx context.Context, config Config) (*MirrorResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SheetsBackend:
		return f.createSheetsMirror(ctx, config)
	case MemoryBackend:
		f.logger.Warn("Using in-memory mirror, rows are lost on restart")
		return &MirrorResult{Mirror: memory.New(), Cleanup: noCleanup}, nil
	default:
		return nil, fmt.Errorf("unsupported mirror backend: %s", config.Type)
	}
}

func (f *DefaultFactory) createSheetsMirror(ctx context.Context, config Config) (*MirrorResult, error) {
	cli, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
		TabPrefix:       config.GoogleTabPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets mirror: %w", err)
	}

	f.logger.Info("Initialized Google Sheets mirror",
		"spreadsheet_id", config.GoogleSpreadsheetID,
		"tab_prefix", config.GoogleTabPrefix)

	return &MirrorResult{Mirror: cli, Cleanup: noCleanup}, nil
}

func noCleanup() error { return nil }
