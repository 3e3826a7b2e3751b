package storage

// Row types mirror the tables one to one. Timestamps are stored as
// fixed-width UTC text so that lexical order equals time order.

type Project struct {
	ID           string
	Name         string
	Client       string
	StartDate    string
	EndDate      string
	Duration     int64
	TotalKopecks int64
	Status       string
	IsRemoved    bool
	Version      int64
	CreatedAt    string
	UpdatedAt    string
}

type Client struct {
	ID                  string
	Name                string
	ProjectsCount       int64
	TotalRevenueKopecks int64
	Version             int64
	CreatedAt           string
	UpdatedAt           string
}

type ProjectExpense struct {
	ID            string
	ProjectID     string
	Category      string
	AmountKopecks int64
	Version       int64
	CreatedAt     string
	UpdatedAt     string
}

type Comment struct {
	ID        string
	ProjectID string
	Text      string
	Timestamp string
}

type ProjectFile struct {
	ID         string
	ProjectID  string
	Name       string
	Size       string
	Timestamp  string
	URL        string
	StorageKey string
}

type SyncQueue struct {
	ID            int64
	Entity        string
	EntityID      string
	Operation     string
	Version       int64
	Status        string
	Attempts      int64
	LastError     string
	NextAttemptAt string
	CreatedAt     string
	UpdatedAt     string
}

type GetSyncQueueStatsRow struct {
	PendingCount    int64 `json:"pending"`
	ProcessingCount int64 `json:"processing"`
	CompletedCount  int64 `json:"completed"`
	FailedCount     int64 `json:"failed"`
}
