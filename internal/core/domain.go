package core

import (
	"errors"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

type (
	// Date is a calendar day at UTC midnight, exchanged as YYYY-MM-DD.
	Date struct {
		time.Time
	}

	Project struct {
		ID        string
		Name      string
		Client    string
		StartDate Date
		EndDate   Date
		Duration  int // days; 0 means "derive from dates"
		TotalCost Money
		Status    ProjectStatus
		IsRemoved bool
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Client is an aggregate derived from the project list.
	Client struct {
		ID            string
		Name          string
		ProjectsCount int
		TotalRevenue  Money
	}

	Expense struct {
		ID        string
		ProjectID string
		Category  string
		Amount    Money
		CreatedAt time.Time
	}

	Comment struct {
		ID        string
		ProjectID string
		Text      string
		Timestamp time.Time
	}

	ProjectFile struct {
		ID         string
		ProjectID  string
		Name       string
		Size       string
		Timestamp  time.Time
		URL        string
		StorageKey string
	}

	// Snapshot is everything the dashboard renders from.
	Snapshot struct {
		Projects        []Project
		RemovedProjects []Project
		Clients         []Client
		Expenses        []Expense
		Comments        []Comment
		Files           []ProjectFile
	}

	// NewProjectInput carries the fields a user fills in when creating a project.
	NewProjectInput struct {
		Name      string
		Client    string
		StartDate Date
		Duration  int
		TotalCost Money
	}

	// ProjectPatch holds optional edits; nil fields keep the current value.
	ProjectPatch struct {
		Name      *string
		StartDate *Date
		Duration  *int
		TotalCost *Money
	}
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyName         = errors.New("empty project name")
	ErrEmptyClient       = errors.New("empty client name")
	ErrInvalidDuration   = errors.New("invalid duration")
	ErrInvalidStatus     = errors.New("invalid project status")
	ErrEmptyCategory     = errors.New("empty expense category")
	ErrEmptyComment      = errors.New("empty comment")
	ErrNotPDF            = errors.New("only PDF files are accepted")
	ErrClientHasProjects = errors.New("client has active projects")
	ErrProjectNotRemoved = errors.New("project is not in the removed list")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD or a full RFC 3339 timestamp (the date part is kept).
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrInvalidDate
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return NewDate(t.Year(), int(t.Month()), t.Day()), nil
}

// String formats the date as YYYY-MM-DD, or "" when unset.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsActive reports whether the project is still being worked on.
func (p Project) IsActive() bool {
	return p.Status.IsActive()
}

// EffectiveDuration returns the stored duration, falling back to the date span.
func (p Project) EffectiveDuration() int {
	if p.Duration > 0 {
		return p.Duration
	}
	return DurationDays(p.StartDate, p.EndDate)
}

func (in NewProjectInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(in.Client) == "" {
		return ErrEmptyClient
	}
	if in.TotalCost.Kopecks <= 0 {
		return ErrInvalidAmount
	}
	if in.Duration < 0 {
		return ErrInvalidDuration
	}
	return in.StartDate.Validate()
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("project id cannot be empty")
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(p.Client) == "" {
		return ErrEmptyClient
	}
	if !p.Status.IsValid() {
		return ErrInvalidStatus
	}
	if p.TotalCost.Kopecks < 0 {
		return ErrInvalidAmount
	}
	if p.Duration < 0 {
		return ErrInvalidDuration
	}
	return nil
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.ProjectID) == "" {
		return errors.New("expense project id cannot be empty")
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if e.Amount.Kopecks < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (c Comment) Validate() error {
	if strings.TrimSpace(c.ProjectID) == "" {
		return errors.New("comment project id cannot be empty")
	}
	if strings.TrimSpace(c.Text) == "" {
		return ErrEmptyComment
	}
	return nil
}
