package backend

import (
	"context"
	"testing"

	"bizdash/internal/config"
	"bizdash/internal/sheets/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendTypeIsValid(t *testing.T) {
	assert.True(t, MemoryBackend.IsValid())
	assert.True(t, SheetsBackend.IsValid())
	assert.False(t, BackendType("sqlite").IsValid())
	assert.False(t, BackendType("").IsValid())
}

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(&config.Config{
		MirrorBackend:            " Sheets ",
		GoogleSpreadsheetID:      "sheet-1",
		GoogleServiceAccountFile: "/tmp/key.json",
		GoogleTabPrefix:          "2025 ",
	})
	assert.Equal(t, SheetsBackend, cfg.Type)
	assert.Equal(t, "sheet-1", cfg.GoogleSpreadsheetID)
	assert.Equal(t, "/tmp/key.json", cfg.GoogleServiceAccountFile)
	assert.Equal(t, "2025 ", cfg.GoogleTabPrefix)
}

func TestValidate(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"unknown type", Config{Type: "csv"}, true},
		{"sheets without id", Config{Type: SheetsBackend, GoogleServiceAccountJSON: "{}"}, true},
		{"sheets without credentials", Config{Type: SheetsBackend, GoogleSpreadsheetID: "x"}, true},
		{"sheets with json", Config{Type: SheetsBackend, GoogleSpreadsheetID: "x", GoogleServiceAccountJSON: "{}"}, false},
		{"sheets with file", Config{Type: SheetsBackend, GoogleSpreadsheetID: "x", GoogleServiceAccountFile: "k.json"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateMemoryMirror(t *testing.T) {
	res, err := NewFactory(nil).CreateMirror(context.Background(), Config{Type: MemoryBackend})
	require.NoError(t, err)
	require.NotNil(t, res.Mirror)
	assert.IsType(t, &memory.Store{}, res.Mirror)
	assert.NoError(t, res.Cleanup())
}

func TestCreateMirrorRejectsInvalidConfig(t *testing.T) {
	_, err := NewFactory(nil).CreateMirror(context.Background(), Config{Type: "sqlite"})
	assert.Error(t, err)
}

func TestCreateSheetsMirrorBadCredentials(t *testing.T) {
	_, err := NewFactory(nil).CreateMirror(context.Background(), Config{
		Type:                     SheetsBackend,
		GoogleSpreadsheetID:      "sheet",
		GoogleServiceAccountJSON: "not json",
	})
	assert.Error(t, err)
}
