package http

import (
	"encoding/json"
	"time"

	"bizdash/internal/core"
	"bizdash/internal/services"
)

// REST payloads use camelCase. Legacy payloads further down mirror the
// original backend: snake_case rows out, camelCase data in.

type projectDTO struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Client      string             `json:"client"`
	StartDate   core.Date          `json:"startDate"`
	EndDate     core.Date          `json:"endDate"`
	Duration    int                `json:"duration"`
	TotalCost   core.Money         `json:"totalCost"`
	Status      core.ProjectStatus `json:"status"`
	StatusLabel string             `json:"statusLabel"`
	IsRemoved   bool               `json:"isRemoved"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

func toProjectDTO(p core.Project) projectDTO {
	return projectDTO{
		ID:          p.ID,
		Name:        p.Name,
		Client:      p.Client,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		Duration:    p.EffectiveDuration(),
		TotalCost:   p.TotalCost,
		Status:      p.Status,
		StatusLabel: p.Status.Label(),
		IsRemoved:   p.IsRemoved,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type clientDTO struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ProjectsCount int        `json:"projectsCount"`
	TotalRevenue  core.Money `json:"totalRevenue"`
}

func toClientDTO(c core.Client) clientDTO {
	return clientDTO{ID: c.ID, Name: c.Name, ProjectsCount: c.ProjectsCount, TotalRevenue: c.TotalRevenue}
}

type expenseDTO struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Category  string     `json:"category"`
	Amount    core.Money `json:"amount"`
	CreatedAt time.Time  `json:"createdAt"`
}

func toExpenseDTO(e core.Expense) expenseDTO {
	return expenseDTO{ID: e.ID, ProjectID: e.ProjectID, Category: e.Category, Amount: e.Amount, CreatedAt: e.CreatedAt}
}

type commentDTO struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func toCommentDTO(c core.Comment) commentDTO {
	return commentDTO{ID: c.ID, ProjectID: c.ProjectID, Text: c.Text, Timestamp: c.Timestamp}
}

type fileDTO struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	Size      string    `json:"size"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
}

func toFileDTO(f core.ProjectFile) fileDTO {
	return fileDTO{ID: f.ID, ProjectID: f.ProjectID, Name: f.Name, Size: f.Size, Timestamp: f.Timestamp, URL: f.URL}
}

type dashboardDTO struct {
	Projects        []projectDTO        `json:"projects"`
	RemovedProjects []projectDTO        `json:"removedProjects"`
	Clients         []clientDTO         `json:"clients"`
	Expenses        []expenseDTO        `json:"expenses"`
	Comments        []commentDTO        `json:"comments"`
	Files           []fileDTO           `json:"files"`
	Stats           core.DashboardStats `json:"stats"`
}

func mapSlice[T, U any](in []T, fn func(T) U) []U {
	out := make([]U, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

func toDashboardDTO(d services.Dashboard) dashboardDTO {
	return dashboardDTO{
		Projects:        mapSlice(d.Projects, toProjectDTO),
		RemovedProjects: mapSlice(d.RemovedProjects, toProjectDTO),
		Clients:         mapSlice(d.Clients, toClientDTO),
		Expenses:        mapSlice(d.Expenses, toExpenseDTO),
		Comments:        mapSlice(d.Comments, toCommentDTO),
		Files:           mapSlice(d.Files, toFileDTO),
		Stats:           d.Stats,
	}
}

// Request bodies

type createProjectRequest struct {
	Name      string     `json:"name"`
	Client    string     `json:"client"`
	StartDate core.Date  `json:"startDate"`
	Duration  int        `json:"duration"`
	TotalCost core.Money `json:"totalCost"`
}

type patchProjectRequest struct {
	Name      *string     `json:"name"`
	StartDate *core.Date  `json:"startDate"`
	Duration  *int        `json:"duration"`
	TotalCost *core.Money `json:"totalCost"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type expenseRequest struct {
	Category string     `json:"category"`
	Amount   core.Money `json:"amount"`
}

type amountRequest struct {
	Amount core.Money `json:"amount"`
}

type commentRequest struct {
	Text string `json:"text"`
}

type renameClientRequest struct {
	Name string `json:"name"`
}

// Legacy wire format

type legacyProjectRow struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Client    string     `json:"client"`
	StartDate core.Date  `json:"start_date"`
	EndDate   core.Date  `json:"end_date"`
	TotalCost core.Money `json:"total_cost"`
	Status    string     `json:"status"`
	Duration  *int       `json:"duration"`
	IsRemoved bool       `json:"is_removed"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func toLegacyProject(p core.Project) legacyProjectRow {
	row := legacyProjectRow{
		ID:        p.ID,
		Name:      p.Name,
		Client:    p.Client,
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
		TotalCost: p.TotalCost,
		Status:    string(p.Status),
		IsRemoved: p.IsRemoved,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.Duration > 0 {
		d := p.Duration
		row.Duration = &d
	}
	return row
}

type legacyClientRow struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ProjectsCount int        `json:"projects_count"`
	TotalRevenue  core.Money `json:"total_revenue"`
}

type legacyExpenseRow struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Category  string     `json:"category"`
	Amount    core.Money `json:"amount"`
	CreatedAt time.Time  `json:"created_at"`
}

type legacyCommentRow struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type legacyFileRow struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Size      string    `json:"size"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
}

type legacySnapshot struct {
	Projects        []legacyProjectRow `json:"projects"`
	Clients         []legacyClientRow  `json:"clients"`
	Expenses        []legacyExpenseRow `json:"expenses"`
	Comments        []legacyCommentRow `json:"comments"`
	Files           []legacyFileRow    `json:"files"`
	RemovedProjects []legacyProjectRow `json:"removedProjects"`
}

func toLegacySnapshot(s core.Snapshot) legacySnapshot {
	return legacySnapshot{
		Projects: mapSlice(s.Projects, toLegacyProject),
		Clients: mapSlice(s.Clients, func(c core.Client) legacyClientRow {
			return legacyClientRow{ID: c.ID, Name: c.Name, ProjectsCount: c.ProjectsCount, TotalRevenue: c.TotalRevenue}
		}),
		Expenses: mapSlice(s.Expenses, func(e core.Expense) legacyExpenseRow {
			return legacyExpenseRow{ID: e.ID, ProjectID: e.ProjectID, Category: e.Category, Amount: e.Amount, CreatedAt: e.CreatedAt}
		}),
		Comments: mapSlice(s.Comments, func(c core.Comment) legacyCommentRow {
			return legacyCommentRow{ID: c.ID, ProjectID: c.ProjectID, Text: c.Text, Timestamp: c.Timestamp}
		}),
		Files: mapSlice(s.Files, func(f core.ProjectFile) legacyFileRow {
			return legacyFileRow{ID: f.ID, ProjectID: f.ProjectID, Name: f.Name, Size: f.Size, Timestamp: f.Timestamp, URL: f.URL}
		}),
		RemovedProjects: mapSlice(s.RemovedProjects, toLegacyProject),
	}
}

// legacyAction is the POST /api envelope; Data is decoded per action.
type legacyAction struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
	FileID string          `json:"fileId"`
}

type legacyProjectData struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Client    string     `json:"client"`
	StartDate core.Date  `json:"startDate"`
	EndDate   core.Date  `json:"endDate"`
	TotalCost core.Money `json:"totalCost"`
	Status    string     `json:"status"`
	Duration  *int       `json:"duration"`
	IsRemoved bool       `json:"isRemoved"`
}

func (d legacyProjectData) project() core.Project {
	p := core.Project{
		ID:        d.ID,
		Name:      d.Name,
		Client:    d.Client,
		StartDate: d.StartDate,
		EndDate:   d.EndDate,
		TotalCost: d.TotalCost,
		Status:    core.ProjectStatus(d.Status),
		IsRemoved: d.IsRemoved,
	}
	if d.Duration != nil {
		p.Duration = *d.Duration
	}
	return p
}

type legacyClientData struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ProjectsCount int        `json:"projectsCount"`
	TotalRevenue  core.Money `json:"totalRevenue"`
}

type legacyExpenseData struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Category  string     `json:"category"`
	Amount    core.Money `json:"amount"`
}

type legacyCommentData struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type legacyFileData struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	Size      string    `json:"size"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
}
