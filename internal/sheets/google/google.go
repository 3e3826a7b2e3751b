package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	ports "bizdash/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

var _ ports.Mirror = (*Client)(nil)

// Config selects the spreadsheet and the service account used to write it.
type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	// TabPrefix is prepended to every tab title, e.g. "2025 ".
	TabPrefix string
}

// Client mirrors rows into one tab per entity. Column A holds the row id.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	tabPrefix     string

	mu                 sync.Mutex
	ensuredTabs        map[string]bool
	rowIndex           map[string]map[string]int // tab -> id -> 1-based row
	cacheExpiresAt     map[string]time.Time
	cacheValidDuration time.Duration
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newWithService(svc, cfg), nil
}

func newWithService(svc *gsheet.Service, cfg Config) *Client {
	return &Client{
		svc:                svc,
		spreadsheetID:      strings.TrimSpace(cfg.SpreadsheetID),
		tabPrefix:          cfg.TabPrefix,
		ensuredTabs:        make(map[string]bool),
		rowIndex:           make(map[string]map[string]int),
		cacheExpiresAt:     make(map[string]time.Time),
		cacheValidDuration: 5 * time.Minute,
	}
}

// newSheetsService builds a Sheets service from service account credentials,
// inline JSON first, then a key file, then GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	credentialsJSON, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func loadCredentials(cfg Config) ([]byte, error) {
	inline := strings.TrimSpace(cfg.CredentialsJSON)
	file := strings.TrimSpace(cfg.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

func (c *Client) tabName(entity string) (string, error) {
	title, ok := ports.TabTitles[entity]
	if !ok {
		return "", fmt.Errorf("no sheet tab for entity %q", entity)
	}
	return c.tabPrefix + title, nil
}

// quoteTab makes a tab title safe for A1 notation.
func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// ensureTab creates the tab with its header row the first time an entity is written.
func (c *Client) ensureTab(ctx context.Context, entity, tab string) error {
	c.mu.Lock()
	done := c.ensuredTabs[tab]
	c.mu.Unlock()
	if done {
		return nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet metadata: %w", err)
	}
	exists := false
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == tab {
			exists = true
			break
		}
	}
	if !exists {
		req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: tab}},
		}}}
		if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("add sheet %s: %w", tab, err)
		}
		header := toRow(ports.Headers[entity])
		rng := quoteTab(tab) + "!A1"
		vr := &gsheet.ValueRange{Values: [][]any{header}}
		if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return fmt.Errorf("write header %s: %w", tab, err)
		}
		slog.InfoContext(ctx, "Created mirror tab", "tab", tab, "entity", entity)
	}

	c.mu.Lock()
	c.ensuredTabs[tab] = true
	c.mu.Unlock()
	return nil
}

// findRow returns the 1-based row holding id, or 0. Lookups are served from
// a per-tab index that is refreshed after cacheValidDuration.
func (c *Client) findRow(ctx context.Context, tab, id string) (int, error) {
	c.mu.Lock()
	idx, ok := c.rowIndex[tab]
	valid := ok && time.Now().Before(c.cacheExpiresAt[tab])
	c.mu.Unlock()
	if valid {
		if row, hit := idx[id]; hit {
			return row, nil
		}
	}

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, quoteTab(tab)+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read ids from %s: %w", tab, err)
	}
	idx = indexIDs(resp.Values)

	c.mu.Lock()
	c.rowIndex[tab] = idx
	c.cacheExpiresAt[tab] = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()

	return idx[id], nil
}

func (c *Client) invalidate(tab string) {
	c.mu.Lock()
	delete(c.rowIndex, tab)
	delete(c.cacheExpiresAt, tab)
	c.mu.Unlock()
}

// indexIDs maps the first-column value of each row to its 1-based row number,
// skipping the header.
func indexIDs(values [][]interface{}) map[string]int {
	idx := make(map[string]int, len(values))
	for i, row := range values {
		if i == 0 || len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if id == "" {
			continue
		}
		if _, dup := idx[id]; !dup {
			idx[id] = i + 1
		}
	}
	return idx
}

func toRow(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func (c *Client) UpsertRow(ctx context.Context, entity, id string, values []string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	tab, err := c.tabName(entity)
	if err != nil {
		return err
	}
	if err := c.ensureTab(ctx, entity, tab); err != nil {
		return err
	}

	row, err := c.findRow(ctx, tab, id)
	if err != nil {
		return err
	}
	// RAW keeps user text such as "=IMPORTXML(...)" or numeric-looking ids as literal strings.
	vr := &gsheet.ValueRange{Values: [][]any{toRow(append([]string{id}, values...))}}

	if row > 0 {
		rng := fmt.Sprintf("%s!A%d", quoteTab(tab), row)
		if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			c.invalidate(tab)
			return fmt.Errorf("update %s row %d: %w", tab, row, err)
		}
		slog.DebugContext(ctx, "Updated mirror row", "tab", tab, "id", id, "row", row)
		return nil
	}

	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, quoteTab(tab)+"!A1", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	// the appended row number is not tracked locally
	c.invalidate(tab)
	if err != nil {
		return fmt.Errorf("append to %s: %w", tab, err)
	}
	slog.DebugContext(ctx, "Appended mirror row", "tab", tab, "id", id)
	return nil
}

// DeleteRow blanks the row holding id. Missing rows are ignored.
func (c *Client) DeleteRow(ctx context.Context, entity, id string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	tab, err := c.tabName(entity)
	if err != nil {
		return err
	}
	if err := c.ensureTab(ctx, entity, tab); err != nil {
		return err
	}
	row, err := c.findRow(ctx, tab, id)
	if err != nil {
		return err
	}
	if row == 0 {
		return nil
	}
	rng := fmt.Sprintf("%s!A%d:Z%d", quoteTab(tab), row, row)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	c.invalidate(tab)
	slog.DebugContext(ctx, "Cleared mirror row", "tab", tab, "id", id, "row", row)
	return nil
}
