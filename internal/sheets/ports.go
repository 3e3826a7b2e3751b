package sheets

import (
	"context"
	"strconv"
	"time"

	"bizdash/internal/core"
)

// Mirror is an external, human-readable copy of the data. Rows are keyed by
// entity id; values exclude the id, which adapters store in the first column.
type Mirror interface {
	UpsertRow(ctx context.Context, entity, id string, values []string) error
	DeleteRow(ctx context.Context, entity, id string) error
}

// Headers lists the column titles for each mirrored entity, id first.
var Headers = map[string][]string{
	"project": {"id", "name", "client", "start_date", "end_date", "duration", "total_cost", "status", "status_label", "is_removed", "updated_at"},
	"client":  {"id", "name", "projects_count", "total_revenue"},
	"expense": {"id", "project_id", "category", "amount", "created_at"},
	"comment": {"id", "project_id", "text", "timestamp"},
	"file":    {"id", "project_id", "name", "size", "url", "timestamp"},
}

// TabTitles maps an entity to its sheet tab.
var TabTitles = map[string]string{
	"project": "Projects",
	"client":  "Clients",
	"expense": "Expenses",
	"comment": "Comments",
	"file":    "Files",
}

func ProjectRow(p core.Project) []string {
	return []string{
		p.Name,
		p.Client,
		p.StartDate.String(),
		p.EndDate.String(),
		strconv.Itoa(p.EffectiveDuration()),
		p.TotalCost.Decimal().String(),
		string(p.Status),
		p.Status.Label(),
		strconv.FormatBool(p.IsRemoved),
		formatTime(p.UpdatedAt),
	}
}

func ClientRow(c core.Client) []string {
	return []string{c.Name, strconv.Itoa(c.ProjectsCount), c.TotalRevenue.Decimal().String()}
}

func ExpenseRow(e core.Expense) []string {
	return []string{e.ProjectID, e.Category, e.Amount.Decimal().String(), formatTime(e.CreatedAt)}
}

func CommentRow(c core.Comment) []string {
	return []string{c.ProjectID, c.Text, formatTime(c.Timestamp)}
}

func FileRow(f core.ProjectFile) []string {
	return []string{f.ProjectID, f.Name, f.Size, f.URL, formatTime(f.Timestamp)}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
