package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bizdash/internal/core"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

// Entity names used in the sync queue and on the wire.
const (
	EntityProject = "project"
	EntityClient  = "client"
	EntityExpense = "expense"
	EntityComment = "comment"
	EntityFile    = "file"

	OpUpsert = "upsert"
	OpDelete = "delete"
)

const tsLayout = "2006-01-02T15:04:05.000000Z07:00"

// Change describes one queued mirror update produced by a write.
type Change struct {
	QueueID   int64
	Entity    string
	EntityID  string
	Operation string
	Version   int64
}

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer keeps SQLite free of SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) stamp() string {
	return formatTS(r.now())
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	if t, err := time.Parse(tsLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// normalizeTS formats t in the stored layout; a zero time means now.
func (r *SQLiteRepository) normalizeTS(t time.Time) string {
	if t.IsZero() {
		return r.stamp()
	}
	return formatTS(t)
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, core.ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", what, id, err)
}

// withTx runs fn inside a transaction. Only the Queries passed to fn may be
// used inside it.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) enqueue(ctx context.Context, q *Queries, changes *[]Change, entity, id, op string, version int64) error {
	qid, err := q.EnqueueSync(ctx, EnqueueSyncParams{
		Entity:    entity,
		EntityID:  id,
		Operation: op,
		Version:   version,
		Now:       r.stamp(),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", entity, id, err)
	}
	*changes = append(*changes, Change{QueueID: qid, Entity: entity, EntityID: id, Operation: op, Version: version})
	return nil
}

// Projects

func toCoreProject(p Project) core.Project {
	start, _ := core.ParseDate(p.StartDate)
	end, _ := core.ParseDate(p.EndDate)
	return core.Project{
		ID:        p.ID,
		Name:      p.Name,
		Client:    p.Client,
		StartDate: start,
		EndDate:   end,
		Duration:  int(p.Duration),
		TotalCost: core.Money{Kopecks: p.TotalKopecks},
		Status:    core.ProjectStatus(p.Status),
		IsRemoved: p.IsRemoved,
		CreatedAt: parseTS(p.CreatedAt),
		UpdatedAt: parseTS(p.UpdatedAt),
	}
}

func (r *SQLiteRepository) UpsertProject(ctx context.Context, p core.Project) ([]Change, error) {
	var changes []Change
	err := r.withTx(ctx, func(q *Queries) error {
		version, err := q.UpsertProject(ctx, UpsertProjectParams{
			ID:           p.ID,
			Name:         p.Name,
			Client:       p.Client,
			StartDate:    p.StartDate.String(),
			EndDate:      p.EndDate.String(),
			Duration:     int64(p.Duration),
			TotalKopecks: p.TotalCost.Kopecks,
			Status:       string(p.Status),
			IsRemoved:    p.IsRemoved,
			Now:          r.stamp(),
		})
		if err != nil {
			return fmt.Errorf("upsert project %s: %w", p.ID, err)
		}
		return r.enqueue(ctx, q, &changes, EntityProject, p.ID, OpUpsert, version)
	})
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "Project saved", "project_id", p.ID, "version", changes[0].Version)
	return changes, nil
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (core.Project, error) {
	p, err := r.queries.GetProject(ctx, id)
	if err != nil {
		return core.Project{}, notFound(err, "project", id)
	}
	return toCoreProject(p), nil
}

// ListProjects returns active projects newest first, or removed projects
// most recently removed first.
func (r *SQLiteRepository) ListProjects(ctx context.Context, removed bool) ([]core.Project, error) {
	rows, err := r.queries.ListProjects(ctx, removed)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]core.Project, len(rows))
	for i, p := range rows {
		out[i] = toCoreProject(p)
	}
	return out, nil
}

func (r *SQLiteRepository) SetProjectRemoved(ctx context.Context, id string, removed bool) ([]Change, error) {
	var changes []Change
	err := r.withTx(ctx, func(q *Queries) error {
		version, err := q.SetProjectRemoved(ctx, SetProjectRemovedParams{ID: id, IsRemoved: removed, Now: r.stamp()})
		if err != nil {
			return notFound(err, "project", id)
		}
		return r.enqueue(ctx, q, &changes, EntityProject, id, OpUpsert, version)
	})
	return changes, err
}

// DeleteProjectCascade removes a project with its expenses, comments and files.
// The removed file rows are returned so their blobs can be cleaned up.
func (r *SQLiteRepository) DeleteProjectCascade(ctx context.Context, id string) ([]core.ProjectFile, []Change, error) {
	var (
		changes []Change
		removed []core.ProjectFile
	)
	err := r.withTx(ctx, func(q *Queries) error {
		p, err := q.GetProject(ctx, id)
		if err != nil {
			return notFound(err, "project", id)
		}

		expenses, err := q.ListExpensesByProject(ctx, id)
		if err != nil {
			return fmt.Errorf("list project expenses: %w", err)
		}
		comments, err := q.ListCommentsByProject(ctx, id)
		if err != nil {
			return fmt.Errorf("list project comments: %w", err)
		}
		files, err := q.ListFilesByProject(ctx, id)
		if err != nil {
			return fmt.Errorf("list project files: %w", err)
		}

		if err := q.DeleteExpensesByProject(ctx, id); err != nil {
			return fmt.Errorf("delete project expenses: %w", err)
		}
		if err := q.DeleteCommentsByProject(ctx, id); err != nil {
			return fmt.Errorf("delete project comments: %w", err)
		}
		if err := q.DeleteFilesByProject(ctx, id); err != nil {
			return fmt.Errorf("delete project files: %w", err)
		}
		if _, err := q.DeleteProject(ctx, id); err != nil {
			return fmt.Errorf("delete project: %w", err)
		}

		for _, e := range expenses {
			if err := r.enqueue(ctx, q, &changes, EntityExpense, e.ID, OpDelete, e.Version+1); err != nil {
				return err
			}
		}
		for _, c := range comments {
			if err := r.enqueue(ctx, q, &changes, EntityComment, c.ID, OpDelete, 1); err != nil {
				return err
			}
		}
		for _, f := range files {
			removed = append(removed, toCoreFile(f))
			if err := r.enqueue(ctx, q, &changes, EntityFile, f.ID, OpDelete, 1); err != nil {
				return err
			}
		}
		return r.enqueue(ctx, q, &changes, EntityProject, id, OpDelete, p.Version+1)
	})
	if err != nil {
		return nil, nil, err
	}
	slog.InfoContext(ctx, "Project deleted permanently",
		"project_id", id,
		"queued_changes", len(changes),
		"files", len(removed))
	return removed, changes, nil
}

func (r *SQLiteRepository) CountActiveProjectsByClient(ctx context.Context, client string) (int, error) {
	n, err := r.queries.CountActiveProjectsByClient(ctx, client)
	if err != nil {
		return 0, fmt.Errorf("count projects for client: %w", err)
	}
	return int(n), nil
}

// Clients

func toCoreClient(c Client) core.Client {
	return core.Client{
		ID:            c.ID,
		Name:          c.Name,
		ProjectsCount: int(c.ProjectsCount),
		TotalRevenue:  core.Money{Kopecks: c.TotalRevenueKopecks},
	}
}

func (r *SQLiteRepository) UpsertClient(ctx context.Context, c core.Client) ([]Change, error) {
	var changes []Change
	err := r.withTx(ctx, func(q *Queries) error {
		return r.upsertClient(ctx, q, &changes, c)
	})
	return changes, err
}

func (r *SQLiteRepository) upsertClient(ctx context.Context, q *Queries, changes *[]Change, c core.Client) error {
	version, err := q.UpsertClient(ctx, UpsertClientParams{
		ID:                  c.ID,
		Name:                c.Name,
		ProjectsCount:       int64(c.ProjectsCount),
		TotalRevenueKopecks: c.TotalRevenue.Kopecks,
		Now:                 r.stamp(),
	})
	if err != nil {
		return fmt.Errorf("upsert client %s: %w", c.ID, err)
	}
	return r.enqueue(ctx, q, changes, EntityClient, c.ID, OpUpsert, version)
}

func (r *SQLiteRepository) GetClient(ctx context.Context, id string) (core.Client, error) {
	c, err := r.queries.GetClient(ctx, id)
	if err != nil {
		return core.Client{}, notFound(err, "client", id)
	}
	return toCoreClient(c), nil
}

func (r *SQLiteRepository) ListClients(ctx context.Context) ([]core.Client, error) {
	rows, err := r.queries.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	out := make([]core.Client, len(rows))
	for i, c := range rows {
		out[i] = toCoreClient(c)
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteClient(ctx context.Context, id string) ([]Change, error) {
	var changes []Change
	err := r.withTx(ctx, func(q *Queries) error {
		c, err := q.GetClient(ctx, id)
		if err != nil {
			return notFound(err, "client", id)
		}
		if _, err := q.DeleteClient(ctx, id); err != nil {
			return fmt.Errorf("delete client %s: %w", id, err)
		}
		return r.enqueue(ctx, q, &changes, EntityClient, id, OpDelete, c.Version+1)
	})
	return changes, err
}

// RenameClient renames a client and every project that references it.
// Renaming onto the name of another client merges the two: the renamed row
// is dropped and its projects move to the existing one.
func (r *SQLiteRepository) RenameClient(ctx context.Context, id, newName string) ([]Change, error) {
	var changes []Change
	err := r.withTx(ctx, func(q *Queries) error {
		c, err := q.GetClient(ctx, id)
		if err != nil {
			return notFound(err, "client", id)
		}
		oldName := c.Name
		if oldName == newName {
			return nil
		}

		other, err := q.GetClientByName(ctx, newName)
		switch {
		case err == nil && other.ID != id:
			if _, err := q.DeleteClient(ctx, id); err != nil {
				return fmt.Errorf("merge client %s: %w", id, err)
			}
			if err := r.enqueue(ctx, q, &changes, EntityClient, id, OpDelete, c.Version+1); err != nil {
				return err
			}
		case err == nil || errors.Is(err, sql.ErrNoRows):
			c.Name = newName
			if err := r.upsertClient(ctx, q, &changes, toCoreClient(c)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("lookup client %q: %w", newName, err)
		}

		renamed, err := q.RenameClientProjects(ctx, RenameClientProjectsParams{
			OldName: oldName,
			NewName: newName,
			Now:     r.stamp(),
		})
		if err != nil {
			return fmt.Errorf("rename client projects: %w", err)
		}
		for _, p := range renamed {
			if err := r.enqueue(ctx, q, &changes, EntityProject, p.ID, OpUpsert, p.Version); err != nil {
				return err
			}
		}
		return nil
	})
	return changes, err
}

// ReplaceClients writes the given aggregates, touching only rows whose
// name, count or revenue actually changed.
func (r *SQLiteRepository) ReplaceClients(ctx context.Context, clients []core.Client) ([]Change, error) {
	var changes []Change
	err := r.withTx(ctx, func(q *Queries) error {
		current, err := q.ListClients(ctx)
		if err != nil {
			return fmt.Errorf("list clients: %w", err)
		}
		byID := make(map[string]core.Client, len(current))
		for _, c := range current {
			byID[c.ID] = toCoreClient(c)
		}
		for _, c := range clients {
			if old, ok := byID[c.ID]; ok && old == c {
				continue
			}
			if err := r.upsertClient(ctx, q, &changes, c); err != nil {
				return err
			}
		}
		return nil
	})
	return changes, err
}

// Expenses

func toCoreExpense(e ProjectExpense) core.Expense {
	return core.Expense{
		ID:        e.ID,
		ProjectID: e.ProjectID,
		Category:  e.Category,
		Amount:    core.Money{Kopecks: e.AmountKopecks},
		CreatedAt: parseTS(e.CreatedAt),
	}
}

func (r *SQLiteRepository) UpsertExpense(ctx context.Context, e core.Expense) ([]Change, error) {
	var changes []Change
	err := r.withTx(ctx, func(q *Queries) error {
		created := ""
		if !e.CreatedAt.IsZero() {
			created = formatTS(e.CreatedAt)
		}
		version, err := q.UpsertExpense(ctx, UpsertExpenseParams{
			ID:            e.ID,
			ProjectID:     e.ProjectID,
			Category:      e.Category,
			AmountKopecks: e.Amount.Kopecks,
			CreatedAt:     created,
			Now:           r.stamp(),
		})
		if err != nil {
			return fmt.Errorf("upsert expense %s: %w", e.ID, err)
		}
		return r.enqueue(ctx, q, &changes, EntityExpense, e.ID, OpUpsert, version)
	})
	return changes, err
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	e, err := r.queries.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, notFound(err, "expense", id)
	}
	return toCoreExpense(e), nil
}

// FindExpenseByCategory returns the oldest expense of a project in a category.
func (r *SQLiteRepository) FindExpenseByCategory(ctx context.Context, projectID, category string) (core.Expense, error) {
	e, err := r.queries.FindExpenseByCategory(ctx, FindExpenseByCategoryParams{ProjectID: projectID, Category: category})
	if err != nil {
		return core.Expense{}, notFound(err, "expense for category", category)
	}
	return toCoreExpense(e), nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	rows, err := r.queries.ListExpenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return convertExpenses(rows), nil
}

func (r *SQLiteRepository) ListExpensesByProject(ctx context.Context, projectID string) ([]core.Expense, error) {
	rows, err := r.queries.ListExpensesByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list expenses for project %s: %w", projectID, err)
	}
	return convertExpenses(rows), nil
}

func convertExpenses(rows []ProjectExpense) []core.Expense {
	out := make([]core.Expense, len(rows))
	for i, e := range rows {
		out[i] = toCoreExpense(e)
	}
	return out
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id string) ([]Change, error) {
	var changes []Change
	err := r.withTx(ctx, func(q *Queries) error {
		e, err := q.GetExpense(ctx, id)
		if err != nil {
			return notFound(err, "expense", id)
		}
		if _, err := q.DeleteExpense(ctx, id); err != nil {
			return fmt.Errorf("delete expense %s: %w", id, err)
		}
		return r.enqueue(ctx, q, &changes, EntityExpense, id, OpDelete, e.Version+1)
	})
	return changes, err
}

// Comments

func toCoreComment(c Comment) core.Comment {
	return core.Comment{ID: c.ID, ProjectID: c.ProjectID, Text: c.Text, Timestamp: parseTS(c.Timestamp)}
}

// InsertComment is a no-op when the id already exists.
func (r *SQLiteRepository) InsertComment(ctx context.Context, c core.Comment) ([]Change, error) {
	var changes []Change
	err := r.withTx(ctx, func(q *Queries) error {
		added, err := q.InsertComment(ctx, Comment{
			ID:        c.ID,
			ProjectID: c.ProjectID,
			Text:      c.Text,
			Timestamp: r.normalizeTS(c.Timestamp),
		})
		if err != nil {
			return fmt.Errorf("insert comment %s: %w", c.ID, err)
		}
		if !added {
			return nil
		}
		return r.enqueue(ctx, q, &changes, EntityComment, c.ID, OpUpsert, 1)
	})
	return changes, err
}

func (r *SQLiteRepository) GetComment(ctx context.Context, id string) (core.Comment, error) {
	c, err := r.queries.GetComment(ctx, id)
	if err != nil {
		return core.Comment{}, notFound(err, "comment", id)
	}
	return toCoreComment(c), nil
}

func (r *SQLiteRepository) ListComments(ctx context.Context) ([]core.Comment, error) {
	rows, err := r.queries.ListComments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	out := make([]core.Comment, len(rows))
	for i, c := range rows {
		out[i] = toCoreComment(c)
	}
	return out, nil
}

// Files

func toCoreFile(f ProjectFile) core.ProjectFile {
	return core.ProjectFile{
		ID:         f.ID,
		ProjectID:  f.ProjectID,
		Name:       f.Name,
		Size:       f.Size,
		Timestamp:  parseTS(f.Timestamp),
		URL:        f.URL,
		StorageKey: f.StorageKey,
	}
}

// InsertFile is a no-op when the id already exists.
func (r *SQLiteRepository) InsertFile(ctx context.Context, f core.ProjectFile) ([]Change, error) {
	var changes []Change
	err := r.withTx(ctx, func(q *Queries) error {
		added, err := q.InsertFile(ctx, ProjectFile{
			ID:         f.ID,
			ProjectID:  f.ProjectID,
			Name:       f.Name,
			Size:       f.Size,
			Timestamp:  r.normalizeTS(f.Timestamp),
			URL:        f.URL,
			StorageKey: f.StorageKey,
		})
		if err != nil {
			return fmt.Errorf("insert file %s: %w", f.ID, err)
		}
		if !added {
			return nil
		}
		return r.enqueue(ctx, q, &changes, EntityFile, f.ID, OpUpsert, 1)
	})
	return changes, err
}

func (r *SQLiteRepository) GetFile(ctx context.Context, id string) (core.ProjectFile, error) {
	f, err := r.queries.GetFile(ctx, id)
	if err != nil {
		return core.ProjectFile{}, notFound(err, "file", id)
	}
	return toCoreFile(f), nil
}

// ClearFileURL hides a file from listings. The row itself is kept.
func (r *SQLiteRepository) ClearFileURL(ctx context.Context, id string) ([]Change, error) {
	var changes []Change
	err := r.withTx(ctx, func(q *Queries) error {
		n, err := q.ClearFileURL(ctx, id)
		if err != nil {
			return fmt.Errorf("clear file url %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("file %s: %w", id, core.ErrNotFound)
		}
		return r.enqueue(ctx, q, &changes, EntityFile, id, OpDelete, 2)
	})
	return changes, err
}

func (r *SQLiteRepository) ListFiles(ctx context.Context) ([]core.ProjectFile, error) {
	rows, err := r.queries.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	out := make([]core.ProjectFile, len(rows))
	for i, f := range rows {
		out[i] = toCoreFile(f)
	}
	return out, nil
}

// Snapshot loads the six dashboard lists concurrently.
func (r *SQLiteRepository) Snapshot(ctx context.Context) (core.Snapshot, error) {
	var s core.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.Projects, err = r.ListProjects(gctx, false)
		return err
	})
	g.Go(func() (err error) {
		s.RemovedProjects, err = r.ListProjects(gctx, true)
		return err
	})
	g.Go(func() (err error) {
		s.Clients, err = r.ListClients(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.Expenses, err = r.ListExpenses(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.Comments, err = r.ListComments(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.Files, err = r.ListFiles(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return s, nil
}
