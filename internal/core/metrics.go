package core

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

type (
	// ProjectFinancials is the per-card money summary.
	ProjectFinancials struct {
		ProjectID     string `json:"projectId"`
		TotalCost     Money  `json:"totalCost"`
		TotalExpenses Money  `json:"totalExpenses"`
		Margin        Money  `json:"margin"`
		MarginPercent string `json:"marginPercent"`
		Progress      int    `json:"progress"`
		StatusLabel   string `json:"statusLabel"`
	}

	// DashboardStats backs the stats cards.
	DashboardStats struct {
		ActiveProjects     int    `json:"activeProjects"`
		TotalRevenue       Money  `json:"totalRevenue"`
		ClientsCount       int    `json:"clientsCount"`
		TotalExpenses      Money  `json:"totalExpenses"`
		TotalMargin        Money  `json:"totalMargin"`
		TotalMarginPercent string `json:"totalMarginPercent"`
	}
)

// CalculateEndDate adds durationDays calendar days to start.
func CalculateEndDate(start Date, durationDays int) Date {
	if start.IsZero() {
		return Date{}
	}
	return Date{Time: start.AddDate(0, 0, durationDays)}
}

// DurationDays is the number of days between start and end, rounded up.
func DurationDays(start, end Date) int {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	return int(math.Ceil(end.Sub(start.Time).Hours() / 24))
}

func ProjectTotalExpenses(projectID string, expenses []Expense) Money {
	var total Money
	for _, e := range expenses {
		if e.ProjectID == projectID {
			total = total.Add(e.Amount)
		}
	}
	return total
}

func ProjectMargin(p Project, expenses []Expense) Money {
	return p.TotalCost.Sub(ProjectTotalExpenses(p.ID, expenses))
}

// MarginPercent formats margin/base*100 with one decimal place, or "0" when base <= 0.
func MarginPercent(margin, base Money) string {
	if base.Kopecks <= 0 {
		return "0"
	}
	pct := decimal.NewFromInt(margin.Kopecks).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(base.Kopecks))
	return pct.StringFixed(1)
}

func ComputeFinancials(p Project, expenses []Expense) ProjectFinancials {
	spent := ProjectTotalExpenses(p.ID, expenses)
	margin := p.TotalCost.Sub(spent)
	return ProjectFinancials{
		ProjectID:     p.ID,
		TotalCost:     p.TotalCost,
		TotalExpenses: spent,
		Margin:        margin,
		MarginPercent: MarginPercent(margin, p.TotalCost),
		Progress:      p.Status.Progress(),
		StatusLabel:   p.Status.Label(),
	}
}

// ComputeStats derives the dashboard cards. Removed projects never count
// towards revenue or activity; expenses are summed across the whole list.
func ComputeStats(projects []Project, clients []Client, expenses []Expense) DashboardStats {
	var s DashboardStats
	for _, p := range projects {
		if p.IsRemoved {
			continue
		}
		if p.IsActive() {
			s.ActiveProjects++
		}
		s.TotalRevenue = s.TotalRevenue.Add(p.TotalCost)
	}
	for _, e := range expenses {
		s.TotalExpenses = s.TotalExpenses.Add(e.Amount)
	}
	s.ClientsCount = len(clients)
	s.TotalMargin = s.TotalRevenue.Sub(s.TotalExpenses)
	s.TotalMarginPercent = MarginPercent(s.TotalMargin, s.TotalRevenue)
	return s
}

// AggregateClients recomputes counts and revenue for existing clients and
// appends clients that projects reference but the list lacks.
func AggregateClients(existing []Client, projects []Project, newID func() string) []Client {
	type agg struct {
		count   int
		revenue Money
	}
	byName := make(map[string]*agg)
	var order []string
	for _, p := range projects {
		if p.IsRemoved {
			continue
		}
		name := strings.TrimSpace(p.Client)
		if name == "" {
			continue
		}
		a, ok := byName[name]
		if !ok {
			a = &agg{}
			byName[name] = a
			order = append(order, name)
		}
		a.count++
		a.revenue = a.revenue.Add(p.TotalCost)
	}

	out := make([]Client, 0, len(existing)+len(order))
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c.Name] = true
		c.ProjectsCount, c.TotalRevenue = 0, Money{}
		if a, ok := byName[c.Name]; ok {
			c.ProjectsCount, c.TotalRevenue = a.count, a.revenue
		}
		out = append(out, c)
	}
	for _, name := range order {
		if known[name] {
			continue
		}
		a := byName[name]
		out = append(out, Client{ID: newID(), Name: name, ProjectsCount: a.count, TotalRevenue: a.revenue})
	}
	return out
}

// FormatFileSize renders a byte count as "X.Y MB".
func FormatFileSize(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}

var pdfMagic = []byte("%PDF")

// CheckPDF accepts application/pdf, or sniffs the header when no type was sent.
func CheckPDF(contentType string, head []byte) error {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/pdf":
		return nil
	case "", "application/octet-stream":
		if bytes.HasPrefix(head, pdfMagic) {
			return nil
		}
	}
	return ErrNotPDF
}
