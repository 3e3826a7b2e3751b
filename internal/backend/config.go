package backend

import (
	"fmt"
	"os"
	"strings"

	"bizdash/internal/config"
)

// FromAppConfig converts application config to mirror config
func FromAppConfig(cfg *config.Config) Config {
	return Config{
		Type:                     BackendType(strings.ToLower(strings.TrimSpace(cfg.MirrorBackend))),
		GoogleSpreadsheetID:      cfg.GoogleSpreadsheetID,
		GoogleServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: cfg.GoogleServiceAccountFile,
		GoogleTabPrefix:          cfg.GoogleTabPrefix,
	}
}

// Validate checks the settings the selected backend needs.
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid mirror backend: %q", c.Type)
	}
	if c.Type != SheetsBackend {
		return nil
	}
	if strings.TrimSpace(c.GoogleSpreadsheetID) == "" {
		return fmt.Errorf("GOOGLE_SPREADSHEET_ID is required for sheets mirror")
	}
	if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" &&
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		return fmt.Errorf("service account credentials are required for sheets mirror")
	}
	return nil
}
