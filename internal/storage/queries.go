package storage

import "context"

const projectColumns = `id, name, client, start_date, end_date, duration, total_kopecks, status, is_removed, version, created_at, updated_at`

func scanProject(row interface{ Scan(...interface{}) error }) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Client, &p.StartDate, &p.EndDate, &p.Duration,
		&p.TotalKopecks, &p.Status, &p.IsRemoved, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const upsertProject = `
INSERT INTO projects (id, name, client, start_date, end_date, duration, total_kopecks, status, is_removed, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    client = excluded.client,
    start_date = excluded.start_date,
    end_date = excluded.end_date,
    duration = excluded.duration,
    total_kopecks = excluded.total_kopecks,
    status = excluded.status,
    is_removed = excluded.is_removed,
    version = projects.version + 1,
    updated_at = excluded.updated_at
RETURNING version`

type UpsertProjectParams struct {
	ID           string
	Name         string
	Client       string
	StartDate    string
	EndDate      string
	Duration     int64
	TotalKopecks int64
	Status       string
	IsRemoved    bool
	Now          string
}

func (q *Queries) UpsertProject(ctx context.Context, arg UpsertProjectParams) (int64, error) {
	var version int64
	err := q.db.QueryRowContext(ctx, upsertProject,
		arg.ID, arg.Name, arg.Client, arg.StartDate, arg.EndDate, arg.Duration,
		arg.TotalKopecks, arg.Status, arg.IsRemoved, arg.Now, arg.Now,
	).Scan(&version)
	return version, err
}

func (q *Queries) GetProject(ctx context.Context, id string) (Project, error) {
	return scanProject(q.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

const listActiveProjects = `SELECT ` + projectColumns + ` FROM projects WHERE is_removed = 0 ORDER BY created_at DESC, id`

const listRemovedProjects = `SELECT ` + projectColumns + ` FROM projects WHERE is_removed = 1 ORDER BY updated_at DESC, id`

func (q *Queries) ListProjects(ctx context.Context, removed bool) ([]Project, error) {
	query := listActiveProjects
	if removed {
		query = listRemovedProjects
	}
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

const setProjectRemoved = `
UPDATE projects SET is_removed = ?, version = version + 1, updated_at = ?
WHERE id = ?
RETURNING version`

type SetProjectRemovedParams struct {
	ID        string
	IsRemoved bool
	Now       string
}

func (q *Queries) SetProjectRemoved(ctx context.Context, arg SetProjectRemovedParams) (int64, error) {
	var version int64
	err := q.db.QueryRowContext(ctx, setProjectRemoved, arg.IsRemoved, arg.Now, arg.ID).Scan(&version)
	return version, err
}

func (q *Queries) DeleteProject(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const renameClientProjects = `
UPDATE projects SET client = ?, version = version + 1, updated_at = ?
WHERE client = ?
RETURNING id, version`

type RenameClientProjectsParams struct {
	OldName string
	NewName string
	Now     string
}

type VersionedID struct {
	ID      string
	Version int64
}

func (q *Queries) RenameClientProjects(ctx context.Context, arg RenameClientProjectsParams) ([]VersionedID, error) {
	rows, err := q.db.QueryContext(ctx, renameClientProjects, arg.NewName, arg.Now, arg.OldName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []VersionedID
	for rows.Next() {
		var v VersionedID
		if err := rows.Scan(&v.ID, &v.Version); err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (q *Queries) CountActiveProjectsByClient(ctx context.Context, client string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE client = ? AND is_removed = 0`, client).Scan(&n)
	return n, err
}

const clientColumns = `id, name, projects_count, total_revenue_kopecks, version, created_at, updated_at`

func scanClient(row interface{ Scan(...interface{}) error }) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.ProjectsCount, &c.TotalRevenueKopecks, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const upsertClient = `
INSERT INTO clients (id, name, projects_count, total_revenue_kopecks, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    projects_count = excluded.projects_count,
    total_revenue_kopecks = excluded.total_revenue_kopecks,
    version = clients.version + 1,
    updated_at = excluded.updated_at
RETURNING version`

type UpsertClientParams struct {
	ID                  string
	Name                string
	ProjectsCount       int64
	TotalRevenueKopecks int64
	Now                 string
}

func (q *Queries) UpsertClient(ctx context.Context, arg UpsertClientParams) (int64, error) {
	var version int64
	err := q.db.QueryRowContext(ctx, upsertClient,
		arg.ID, arg.Name, arg.ProjectsCount, arg.TotalRevenueKopecks, arg.Now, arg.Now,
	).Scan(&version)
	return version, err
}

func (q *Queries) GetClient(ctx context.Context, id string) (Client, error) {
	return scanClient(q.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
}

func (q *Queries) GetClientByName(ctx context.Context, name string) (Client, error) {
	return scanClient(q.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE name = ?`, name))
}

func (q *Queries) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (q *Queries) DeleteClient(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const expenseColumns = `id, project_id, category, amount_kopecks, version, created_at, updated_at`

func scanExpense(row interface{ Scan(...interface{}) error }) (ProjectExpense, error) {
	var e ProjectExpense
	err := row.Scan(&e.ID, &e.ProjectID, &e.Category, &e.AmountKopecks, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// The owning project of an expense never changes once written.
const upsertExpense = `
INSERT INTO project_expenses (id, project_id, category, amount_kopecks, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    category = excluded.category,
    amount_kopecks = excluded.amount_kopecks,
    version = project_expenses.version + 1,
    updated_at = excluded.updated_at
RETURNING version`

type UpsertExpenseParams struct {
	ID            string
	ProjectID     string
	Category      string
	AmountKopecks int64
	CreatedAt     string
	Now           string
}

func (q *Queries) UpsertExpense(ctx context.Context, arg UpsertExpenseParams) (int64, error) {
	created := arg.CreatedAt
	if created == "" {
		created = arg.Now
	}
	var version int64
	err := q.db.QueryRowContext(ctx, upsertExpense,
		arg.ID, arg.ProjectID, arg.Category, arg.AmountKopecks, created, arg.Now,
	).Scan(&version)
	return version, err
}

func (q *Queries) GetExpense(ctx context.Context, id string) (ProjectExpense, error) {
	return scanExpense(q.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM project_expenses WHERE id = ?`, id))
}

type FindExpenseByCategoryParams struct {
	ProjectID string
	Category  string
}

func (q *Queries) FindExpenseByCategory(ctx context.Context, arg FindExpenseByCategoryParams) (ProjectExpense, error) {
	return scanExpense(q.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM project_expenses WHERE project_id = ? AND category = ? ORDER BY created_at LIMIT 1`,
		arg.ProjectID, arg.Category))
}

func (q *Queries) listExpenses(ctx context.Context, query string, args ...interface{}) ([]ProjectExpense, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProjectExpense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (q *Queries) ListExpenses(ctx context.Context) ([]ProjectExpense, error) {
	return q.listExpenses(ctx, `SELECT `+expenseColumns+` FROM project_expenses ORDER BY created_at DESC, id`)
}

func (q *Queries) ListExpensesByProject(ctx context.Context, projectID string) ([]ProjectExpense, error) {
	return q.listExpenses(ctx,
		`SELECT `+expenseColumns+` FROM project_expenses WHERE project_id = ? ORDER BY created_at DESC, id`, projectID)
}

func (q *Queries) DeleteExpense(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM project_expenses WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const commentColumns = `id, project_id, text, timestamp`

func scanComment(row interface{ Scan(...interface{}) error }) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.ProjectID, &c.Text, &c.Timestamp)
	return c, err
}

// InsertComment keeps the first write for an id and reports whether a row was added.
func (q *Queries) InsertComment(ctx context.Context, arg Comment) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO comments (id, project_id, text, timestamp) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		arg.ID, arg.ProjectID, arg.Text, arg.Timestamp)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q *Queries) GetComment(ctx context.Context, id string) (Comment, error) {
	return scanComment(q.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id))
}

func (q *Queries) listComments(ctx context.Context, query string, args ...interface{}) ([]Comment, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (q *Queries) ListComments(ctx context.Context) ([]Comment, error) {
	return q.listComments(ctx, `SELECT `+commentColumns+` FROM comments ORDER BY timestamp DESC, id`)
}

func (q *Queries) ListCommentsByProject(ctx context.Context, projectID string) ([]Comment, error) {
	return q.listComments(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE project_id = ? ORDER BY timestamp DESC, id`, projectID)
}

func (q *Queries) DeleteCommentsByProject(ctx context.Context, projectID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM comments WHERE project_id = ?`, projectID)
	return err
}

const fileColumns = `id, project_id, name, size, timestamp, url, storage_key`

func scanFile(row interface{ Scan(...interface{}) error }) (ProjectFile, error) {
	var f ProjectFile
	err := row.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Size, &f.Timestamp, &f.URL, &f.StorageKey)
	return f, err
}

// InsertFile keeps the first write for an id and reports whether a row was added.
func (q *Queries) InsertFile(ctx context.Context, arg ProjectFile) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO project_files (id, project_id, name, size, timestamp, url, storage_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		arg.ID, arg.ProjectID, arg.Name, arg.Size, arg.Timestamp, arg.URL, arg.StorageKey)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q *Queries) GetFile(ctx context.Context, id string) (ProjectFile, error) {
	return scanFile(q.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM project_files WHERE id = ?`, id))
}

func (q *Queries) ClearFileURL(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE project_files SET url = '' WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) listFiles(ctx context.Context, query string, args ...interface{}) ([]ProjectFile, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProjectFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (q *Queries) ListFiles(ctx context.Context) ([]ProjectFile, error) {
	return q.listFiles(ctx, `SELECT `+fileColumns+` FROM project_files WHERE url <> '' ORDER BY timestamp DESC, id`)
}

// ListFilesByProject includes files whose url was cleared.
func (q *Queries) ListFilesByProject(ctx context.Context, projectID string) ([]ProjectFile, error) {
	return q.listFiles(ctx,
		`SELECT `+fileColumns+` FROM project_files WHERE project_id = ? ORDER BY timestamp DESC, id`, projectID)
}

func (q *Queries) DeleteFilesByProject(ctx context.Context, projectID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM project_files WHERE project_id = ?`, projectID)
	return err
}

func (q *Queries) DeleteExpensesByProject(ctx context.Context, projectID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM project_expenses WHERE project_id = ?`, projectID)
	return err
}

const syncColumns = `id, entity, entity_id, operation, version, status, attempts, last_error, next_attempt_at, created_at, updated_at`

type EnqueueSyncParams struct {
	Entity    string
	EntityID  string
	Operation string
	Version   int64
	Now       string
}

func (q *Queries) EnqueueSync(ctx context.Context, arg EnqueueSyncParams) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO sync_queue (entity, entity_id, operation, version, next_attempt_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		arg.Entity, arg.EntityID, arg.Operation, arg.Version, arg.Now, arg.Now, arg.Now,
	).Scan(&id)
	return id, err
}

type DequeueSyncBatchParams struct {
	Now   string
	Limit int64
}

func (q *Queries) DequeueSyncBatch(ctx context.Context, arg DequeueSyncBatchParams) ([]SyncQueue, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+syncColumns+` FROM sync_queue
		 WHERE status = 'pending' AND next_attempt_at <= ?
		 ORDER BY id LIMIT ?`, arg.Now, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SyncQueue
	for rows.Next() {
		var i SyncQueue
		if err := rows.Scan(&i.ID, &i.Entity, &i.EntityID, &i.Operation, &i.Version, &i.Status,
			&i.Attempts, &i.LastError, &i.NextAttemptAt, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (q *Queries) GetSyncItem(ctx context.Context, id int64) (SyncQueue, error) {
	var i SyncQueue
	err := q.db.QueryRowContext(ctx, `SELECT `+syncColumns+` FROM sync_queue WHERE id = ?`, id).Scan(
		&i.ID, &i.Entity, &i.EntityID, &i.Operation, &i.Version, &i.Status,
		&i.Attempts, &i.LastError, &i.NextAttemptAt, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

// MarkSyncProcessing claims a pending item. It reports false when another
// consumer got there first.
func (q *Queries) MarkSyncProcessing(ctx context.Context, id int64, now string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'pending'`, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q *Queries) MarkSyncComplete(ctx context.Context, id int64, now string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'completed', last_error = '', updated_at = ? WHERE id = ?`, now, id)
	return err
}

type IncrementSyncAttemptParams struct {
	ID            int64
	LastError     string
	NextAttemptAt string
	Now           string
}

func (q *Queries) IncrementSyncAttempt(ctx context.Context, arg IncrementSyncAttemptParams) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'pending', attempts = attempts + 1, last_error = ?,
		 next_attempt_at = ?, updated_at = ? WHERE id = ?`,
		arg.LastError, arg.NextAttemptAt, arg.Now, arg.ID)
	return err
}

func (q *Queries) MarkSyncFailed(ctx context.Context, id int64, lastError, now string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		lastError, now, id)
	return err
}

func (q *Queries) ResetStaleProcessing(ctx context.Context, before, now string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'pending', updated_at = ? WHERE status = 'processing' AND updated_at < ?`,
		now, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) CleanupCompletedSyncs(ctx context.Context, before string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE status = 'completed' AND updated_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) RetryFailedSyncs(ctx context.Context, now string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'pending', attempts = 0, next_attempt_at = ?, updated_at = ? WHERE status = 'failed'`,
		now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) GetSyncQueueStats(ctx context.Context) (GetSyncQueueStatsRow, error) {
	var s GetSyncQueueStatsRow
	err := q.db.QueryRowContext(ctx, `
SELECT
    COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
FROM sync_queue`).Scan(&s.PendingCount, &s.ProcessingCount, &s.CompletedCount, &s.FailedCount)
	return s, err
}
