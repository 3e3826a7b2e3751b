package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"bizdash/internal/amqp"
	"bizdash/internal/core"
	applog "bizdash/internal/log"
	"bizdash/internal/metrics"
	"bizdash/internal/storage"

	"github.com/google/uuid"
)

// ChangePublisher announces queued changes to the sync worker.
type ChangePublisher interface {
	PublishChange(ctx context.Context, msg *amqp.ChangeMessage) error
}

// BlobStore holds uploaded attachment bodies.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadSeekCloser, error)
	Delete(ctx context.Context, key string) error
}

// Dashboard is the snapshot plus the stats computed from it.
type Dashboard struct {
	core.Snapshot
	Stats core.DashboardStats
}

// ProjectService orchestrates project operations across SQLite, the
// attachment store and AMQP.
type ProjectService struct {
	storage   *storage.SQLiteRepository
	blobs     BlobStore
	publisher ChangePublisher
	metrics   *metrics.Metrics
	events    *applog.StructuredLogger
	newID     func() string

	mu        sync.Mutex
	listeners []func()
}

func NewProjectService(store *storage.SQLiteRepository, blobs BlobStore, publisher ChangePublisher) *ProjectService {
	return &ProjectService{
		storage:   store,
		blobs:     blobs,
		publisher: publisher,
		metrics:   metrics.Get(),
		events:    applog.NewStructuredLogger(applog.Default(applog.ComponentProject)),
		newID:     uuid.NewString,
	}
}

// OnChange registers fn to run after every successful write.
func (s *ProjectService) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// committed publishes the queued changes and notifies listeners. Publishing
// is best effort: the sync queue row already exists, so a lost message only
// delays the mirror until the next sweep.
func (s *ProjectService) committed(ctx context.Context, changes []storage.Change) {
	for _, c := range changes {
		if err := s.publish(ctx, c); err != nil {
			s.metrics.PublishFailures.Inc()
			slog.ErrorContext(ctx, "Failed to publish change message",
				applog.NewFields().WithChange(c.QueueID, c.Entity, c.EntityID, c.Version).WithError(err).ToSlice()...)
		}
	}
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (s *ProjectService) publish(ctx context.Context, c storage.Change) error {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP publisher not available, skipping change message", "queue_id", c.QueueID)
		return nil
	}
	return s.publisher.PublishChange(ctx, amqp.NewChangeMessage(c.QueueID, c.Entity, c.EntityID, c.Operation, c.Version))
}

// Load returns everything the dashboard renders.
func (s *ProjectService) Load(ctx context.Context) (Dashboard, error) {
	snap, err := s.storage.Snapshot(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{
		Snapshot: snap,
		Stats:    core.ComputeStats(snap.Projects, snap.Clients, snap.Expenses),
	}, nil
}

func (s *ProjectService) Stats(ctx context.Context) (core.DashboardStats, error) {
	d, err := s.Load(ctx)
	if err != nil {
		return core.DashboardStats{}, err
	}
	return d.Stats, nil
}

func (s *ProjectService) ProjectFinancials(ctx context.Context, id string) (core.ProjectFinancials, error) {
	p, err := s.storage.GetProject(ctx, id)
	if err != nil {
		return core.ProjectFinancials{}, err
	}
	expenses, err := s.storage.ListExpensesByProject(ctx, id)
	if err != nil {
		return core.ProjectFinancials{}, err
	}
	return core.ComputeFinancials(p, expenses), nil
}

// Projects

func (s *ProjectService) CreateProject(ctx context.Context, in core.NewProjectInput) (p core.Project, err error) {
	defer func() { s.metrics.Op("create_project", err) }()

	if err := in.Validate(); err != nil {
		return core.Project{}, err
	}
	p = core.Project{
		ID:        s.newID(),
		Name:      strings.TrimSpace(in.Name),
		Client:    strings.TrimSpace(in.Client),
		StartDate: in.StartDate,
		EndDate:   core.CalculateEndDate(in.StartDate, in.Duration),
		Duration:  in.Duration,
		TotalCost: in.TotalCost,
		Status:    core.StatusContract,
	}
	changes, err := s.storage.UpsertProject(ctx, p)
	if err != nil {
		return core.Project{}, fmt.Errorf("save project: %w", err)
	}
	changes = append(changes, s.reconcile(ctx)...)
	s.committed(ctx, changes)
	s.events.LogProjectEvent(ctx, applog.OpCreate, p.ID, p.Client, string(p.Status))
	return s.storage.GetProject(ctx, p.ID)
}

func (s *ProjectService) UpdateProjectStatus(ctx context.Context, id string, status string) (p core.Project, err error) {
	defer func() { s.metrics.Op("update_status", err) }()

	st, err := core.ParseStatus(status)
	if err != nil {
		return core.Project{}, err
	}
	p, err = s.storage.GetProject(ctx, id)
	if err != nil {
		return core.Project{}, err
	}
	p.Status = st
	changes, err := s.storage.UpsertProject(ctx, p)
	if err != nil {
		return core.Project{}, fmt.Errorf("save project status: %w", err)
	}
	s.committed(ctx, changes)
	s.events.LogProjectEvent(ctx, applog.OpUpdate, p.ID, p.Client, string(p.Status))
	return s.storage.GetProject(ctx, id)
}

// UpdateProject applies the set fields of patch and recomputes the end date.
func (s *ProjectService) UpdateProject(ctx context.Context, id string, patch core.ProjectPatch) (p core.Project, err error) {
	defer func() { s.metrics.Op("update_project", err) }()

	p, err = s.storage.GetProject(ctx, id)
	if err != nil {
		return core.Project{}, err
	}
	duration := p.EffectiveDuration()
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return core.Project{}, core.ErrEmptyName
		}
		p.Name = name
	}
	if patch.StartDate != nil {
		if err := patch.StartDate.Validate(); err != nil {
			return core.Project{}, err
		}
		p.StartDate = *patch.StartDate
	}
	if patch.Duration != nil {
		if *patch.Duration < 0 {
			return core.Project{}, core.ErrInvalidDuration
		}
		duration = *patch.Duration
	}
	if patch.TotalCost != nil {
		if patch.TotalCost.Kopecks <= 0 {
			return core.Project{}, core.ErrInvalidAmount
		}
		p.TotalCost = *patch.TotalCost
	}
	p.Duration = duration
	p.EndDate = core.CalculateEndDate(p.StartDate, duration)

	changes, err := s.storage.UpsertProject(ctx, p)
	if err != nil {
		return core.Project{}, fmt.Errorf("save project: %w", err)
	}
	if patch.TotalCost != nil {
		changes = append(changes, s.reconcile(ctx)...)
	}
	s.committed(ctx, changes)
	return s.storage.GetProject(ctx, id)
}

// DeleteProject moves a project to the removed list.
func (s *ProjectService) DeleteProject(ctx context.Context, id string) error {
	err := s.setRemoved(ctx, id, true)
	s.metrics.Op("delete_project", err)
	return err
}

func (s *ProjectService) RestoreProject(ctx context.Context, id string) error {
	err := s.setRemoved(ctx, id, false)
	s.metrics.Op("restore_project", err)
	return err
}

func (s *ProjectService) setRemoved(ctx context.Context, id string, removed bool) error {
	changes, err := s.storage.SetProjectRemoved(ctx, id, removed)
	if err != nil {
		return err
	}
	changes = append(changes, s.reconcile(ctx)...)
	s.committed(ctx, changes)
	op := applog.OpDelete
	if !removed {
		op = applog.OpRestore
	}
	s.events.LogProjectEvent(ctx, op, id, "", "")
	return nil
}

// PermanentlyDeleteProject erases a removed project together with its
// expenses, comments and stored attachments.
func (s *ProjectService) PermanentlyDeleteProject(ctx context.Context, id string) (err error) {
	defer func() { s.metrics.Op("purge_project", err) }()

	p, err := s.storage.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if !p.IsRemoved {
		return fmt.Errorf("project %s: %w", id, core.ErrProjectNotRemoved)
	}
	files, changes, err := s.storage.DeleteProjectCascade(ctx, id)
	if err != nil {
		return err
	}
	for _, f := range files {
		s.deleteBlob(ctx, f)
	}
	s.committed(ctx, changes)
	return nil
}

// Expenses

func (s *ProjectService) CreateExpense(ctx context.Context, projectID, category string, amount core.Money) (e core.Expense, err error) {
	defer func() { s.metrics.Op("create_expense", err) }()

	e = core.Expense{
		ID:        s.newID(),
		ProjectID: projectID,
		Category:  strings.TrimSpace(category),
		Amount:    amount,
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	if _, err := s.storage.GetProject(ctx, projectID); err != nil {
		return core.Expense{}, err
	}
	changes, err := s.storage.UpsertExpense(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}
	s.committed(ctx, changes)
	slog.InfoContext(ctx, "Expense created",
		applog.NewFields().WithExpense(e.ID, e.ProjectID, e.Category, e.Amount.Kopecks).ToSlice()...)
	return s.storage.GetExpense(ctx, e.ID)
}

// SetCategoryExpense keeps one expense per project and category: it updates
// the existing one or creates it.
func (s *ProjectService) SetCategoryExpense(ctx context.Context, projectID, category string, amount core.Money) (core.Expense, error) {
	category = strings.TrimSpace(category)
	existing, err := s.storage.FindExpenseByCategory(ctx, projectID, category)
	switch {
	case err == nil:
		return s.UpdateExpenseAmount(ctx, existing.ID, amount)
	case errors.Is(err, core.ErrNotFound):
		return s.CreateExpense(ctx, projectID, category, amount)
	default:
		return core.Expense{}, err
	}
}

func (s *ProjectService) UpdateExpenseAmount(ctx context.Context, id string, amount core.Money) (e core.Expense, err error) {
	defer func() { s.metrics.Op("update_expense", err) }()

	e, err = s.storage.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, err
	}
	e.Amount = amount
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	changes, err := s.storage.UpsertExpense(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}
	s.committed(ctx, changes)
	return s.storage.GetExpense(ctx, id)
}

func (s *ProjectService) DeleteExpense(ctx context.Context, id string) error {
	changes, err := s.storage.DeleteExpense(ctx, id)
	s.metrics.Op("delete_expense", err)
	if err != nil {
		return err
	}
	s.committed(ctx, changes)
	return nil
}

// Comments and files

func (s *ProjectService) AddComment(ctx context.Context, projectID, text string) (c core.Comment, err error) {
	defer func() { s.metrics.Op("add_comment", err) }()

	c = core.Comment{ID: s.newID(), ProjectID: projectID, Text: strings.TrimSpace(text)}
	if err := c.Validate(); err != nil {
		return core.Comment{}, err
	}
	if _, err := s.storage.GetProject(ctx, projectID); err != nil {
		return core.Comment{}, err
	}
	changes, err := s.storage.InsertComment(ctx, c)
	if err != nil {
		return core.Comment{}, fmt.Errorf("save comment: %w", err)
	}
	s.committed(ctx, changes)
	return s.storage.GetComment(ctx, c.ID)
}

// AddFile stores a PDF attachment for a project.
func (s *ProjectService) AddFile(ctx context.Context, projectID, name, contentType string, body io.Reader) (f core.ProjectFile, err error) {
	defer func() { s.metrics.Op("add_file", err) }()

	if s.blobs == nil {
		return core.ProjectFile{}, errors.New("attachment storage not configured")
	}
	br := bufio.NewReader(body)
	head, _ := br.Peek(512)
	if err := core.CheckPDF(contentType, head); err != nil {
		return core.ProjectFile{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "document.pdf"
	}
	if _, err := s.storage.GetProject(ctx, projectID); err != nil {
		return core.ProjectFile{}, err
	}

	id := s.newID()
	key := id + ".pdf"
	n, err := s.blobs.Put(ctx, key, br)
	if err != nil {
		return core.ProjectFile{}, fmt.Errorf("store attachment: %w", err)
	}
	f = core.ProjectFile{
		ID:         id,
		ProjectID:  projectID,
		Name:       name,
		Size:       core.FormatFileSize(n),
		URL:        "/files/" + id,
		StorageKey: key,
	}
	changes, err := s.storage.InsertFile(ctx, f)
	if err != nil {
		s.deleteBlob(ctx, f)
		return core.ProjectFile{}, fmt.Errorf("save file: %w", err)
	}
	s.committed(ctx, changes)
	slog.InfoContext(ctx, "File attached", "file_id", id, "project_id", projectID, "bytes", n)
	return s.storage.GetFile(ctx, id)
}

// OpenFile returns a visible file and its content.
func (s *ProjectService) OpenFile(ctx context.Context, id string) (core.ProjectFile, io.ReadSeekCloser, error) {
	f, err := s.storage.GetFile(ctx, id)
	if err != nil {
		return core.ProjectFile{}, nil, err
	}
	if f.URL == "" || f.StorageKey == "" || s.blobs == nil {
		return core.ProjectFile{}, nil, fmt.Errorf("file %s: %w", id, core.ErrNotFound)
	}
	rc, err := s.blobs.Open(ctx, f.StorageKey)
	if err != nil {
		return core.ProjectFile{}, nil, err
	}
	return f, rc, nil
}

// RemoveFile hides a file and drops its stored body.
func (s *ProjectService) RemoveFile(ctx context.Context, id string) (err error) {
	defer func() { s.metrics.Op("remove_file", err) }()

	f, err := s.storage.GetFile(ctx, id)
	if err != nil {
		return err
	}
	changes, err := s.storage.ClearFileURL(ctx, id)
	if err != nil {
		return err
	}
	s.deleteBlob(ctx, f)
	s.committed(ctx, changes)
	return nil
}

func (s *ProjectService) deleteBlob(ctx context.Context, f core.ProjectFile) {
	if f.StorageKey == "" || s.blobs == nil {
		return
	}
	if err := s.blobs.Delete(ctx, f.StorageKey); err != nil {
		slog.WarnContext(ctx, "Failed to delete attachment", "file_id", f.ID, "error", err)
	}
}

// Clients

func (s *ProjectService) ListClients(ctx context.Context) ([]core.Client, error) {
	return s.storage.ListClients(ctx)
}

// RenameClient renames a client and every project that references it.
func (s *ProjectService) RenameClient(ctx context.Context, id, newName string) (c core.Client, err error) {
	defer func() { s.metrics.Op("rename_client", err) }()

	newName = strings.TrimSpace(newName)
	if newName == "" {
		return core.Client{}, core.ErrEmptyClient
	}
	changes, err := s.storage.RenameClient(ctx, id, newName)
	if err != nil {
		return core.Client{}, err
	}
	changes = append(changes, s.reconcile(ctx)...)
	s.committed(ctx, changes)

	clients, err := s.storage.ListClients(ctx)
	if err != nil {
		return core.Client{}, err
	}
	for _, c := range clients {
		if c.Name == newName {
			return c, nil
		}
	}
	return core.Client{}, fmt.Errorf("client %q: %w", newName, core.ErrNotFound)
}

// DeleteClient removes a client that no active project references.
func (s *ProjectService) DeleteClient(ctx context.Context, id string) (err error) {
	defer func() { s.metrics.Op("delete_client", err) }()

	c, err := s.storage.GetClient(ctx, id)
	if err != nil {
		return err
	}
	n, err := s.storage.CountActiveProjectsByClient(ctx, c.Name)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("client %q has %d active projects: %w", c.Name, n, core.ErrClientHasProjects)
	}
	changes, err := s.storage.DeleteClient(ctx, id)
	if err != nil {
		return err
	}
	s.committed(ctx, changes)
	return nil
}

// ReconcileClients recomputes the client aggregates from the project list
// and persists the rows that changed.
func (s *ProjectService) ReconcileClients(ctx context.Context) ([]core.Client, error) {
	changes, err := s.reconcileClients(ctx)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, changes)
	return s.storage.ListClients(ctx)
}

func (s *ProjectService) reconcileClients(ctx context.Context) ([]storage.Change, error) {
	projects, err := s.storage.ListProjects(ctx, false)
	if err != nil {
		return nil, err
	}
	existing, err := s.storage.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	return s.storage.ReplaceClients(ctx, core.AggregateClients(existing, projects, s.newID))
}

// reconcile runs after project writes. Its failure leaves stale aggregates
// that the next write repairs, so it is logged rather than returned.
func (s *ProjectService) reconcile(ctx context.Context) []storage.Change {
	changes, err := s.reconcileClients(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to reconcile clients", "error", err)
		return nil
	}
	return changes
}

// Legacy upserts. IDs are taken from the caller verbatim.

func (s *ProjectService) SaveProject(ctx context.Context, p core.Project) (err error) {
	defer func() { s.metrics.Op("legacy_save_project", err) }()

	if p.Status == "" {
		p.Status = core.StatusContract
	}
	if p.EndDate.IsZero() && !p.StartDate.IsZero() {
		p.EndDate = core.CalculateEndDate(p.StartDate, p.Duration)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	changes, err := s.storage.UpsertProject(ctx, p)
	if err != nil {
		return err
	}
	s.committed(ctx, changes)
	return nil
}

func (s *ProjectService) SaveClient(ctx context.Context, c core.Client) (err error) {
	defer func() { s.metrics.Op("legacy_save_client", err) }()

	if strings.TrimSpace(c.ID) == "" {
		return errors.New("client id cannot be empty")
	}
	if strings.TrimSpace(c.Name) == "" {
		return core.ErrEmptyClient
	}
	changes, err := s.storage.UpsertClient(ctx, c)
	if err != nil {
		return err
	}
	s.committed(ctx, changes)
	return nil
}

func (s *ProjectService) SaveExpense(ctx context.Context, e core.Expense) (err error) {
	defer func() { s.metrics.Op("legacy_save_expense", err) }()

	if strings.TrimSpace(e.ID) == "" {
		return errors.New("expense id cannot be empty")
	}
	if err := e.Validate(); err != nil {
		return err
	}
	changes, err := s.storage.UpsertExpense(ctx, e)
	if err != nil {
		return err
	}
	s.committed(ctx, changes)
	return nil
}

func (s *ProjectService) SaveComment(ctx context.Context, c core.Comment) (err error) {
	defer func() { s.metrics.Op("legacy_save_comment", err) }()

	if strings.TrimSpace(c.ID) == "" {
		return errors.New("comment id cannot be empty")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	changes, err := s.storage.InsertComment(ctx, c)
	if err != nil {
		return err
	}
	s.committed(ctx, changes)
	return nil
}

// SaveFile records file metadata whose body lives at the caller's URL.
func (s *ProjectService) SaveFile(ctx context.Context, f core.ProjectFile) (err error) {
	defer func() { s.metrics.Op("legacy_save_file", err) }()

	if strings.TrimSpace(f.ID) == "" || strings.TrimSpace(f.ProjectID) == "" {
		return errors.New("file id and project id are required")
	}
	f.StorageKey = ""
	changes, err := s.storage.InsertFile(ctx, f)
	if err != nil {
		return err
	}
	s.committed(ctx, changes)
	return nil
}

// ClearFile hides a file. Unknown ids are ignored.
func (s *ProjectService) ClearFile(ctx context.Context, id string) error {
	err := s.RemoveFile(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	return err
}

// Ping checks the database.
func (s *ProjectService) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}
