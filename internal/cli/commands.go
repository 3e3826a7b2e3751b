package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"bizdash/internal/core"
	"bizdash/internal/storage"

	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

type options struct {
	serverURL string
	dbPath    string
	timeout   time.Duration
}

// NewRootCommand builds the bizdashctl command tree. HTTP commands talk to a
// running server; migrate and queue commands open the database directly.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "bizdashctl",
		Short: "Operate a bizdash deployment",
		Long: `bizdashctl inspects a running bizdash server and manages its database.

Examples:
  # Check the server
  bizdashctl health --server http://localhost:8080

  # Apply schema migrations
  bizdashctl migrate up --db ./data/bizdash.db

  # Requeue failed mirror writes
  bizdashctl queue retry`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "server", envOr("BIZDASH_SERVER", "http://localhost:8080"), "bizdash server URL")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("SQLITE_DB_PATH", "./data/bizdash.db"), "SQLite database path")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		newHealthCommand(opts),
		newStatsCommand(opts),
		newProjectsCommand(opts),
		newClientsCommand(opts),
		newMigrateCommand(opts),
		newQueueCommand(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newHealthCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server liveness and readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range []string{"/healthz", "/readyz"} {
				body, err := opts.get(cmd.Context(), path)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-8s %s\n", strings.TrimPrefix(path, "/"), strings.TrimSpace(string(body)))
			}
			return nil
		},
	}
}

func newStatsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print dashboard totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats core.DashboardStats
			if err := opts.getJSON(cmd.Context(), "/api/v1/stats", &stats); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Active projects\t%d\n", stats.ActiveProjects)
			fmt.Fprintf(tw, "Clients\t%d\n", stats.ClientsCount)
			fmt.Fprintf(tw, "Revenue\t%s\n", core.FormatRubles(stats.TotalRevenue))
			fmt.Fprintf(tw, "Expenses\t%s\n", core.FormatRubles(stats.TotalExpenses))
			fmt.Fprintf(tw, "Margin\t%s (%s%%)\n", core.FormatRubles(stats.TotalMargin), stats.TotalMarginPercent)
			return tw.Flush()
		},
	}
}

type projectLine struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Client      string     `json:"client"`
	EndDate     core.Date  `json:"endDate"`
	TotalCost   core.Money `json:"totalCost"`
	StatusLabel string     `json:"statusLabel"`
}

type clientLine struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ProjectsCount int        `json:"projectsCount"`
	TotalRevenue  core.Money `json:"totalRevenue"`
}

type dashboardPayload struct {
	Projects        []projectLine `json:"projects"`
	RemovedProjects []projectLine `json:"removedProjects"`
	Clients         []clientLine  `json:"clients"`
}

func newProjectsCommand(opts *options) *cobra.Command {
	var removed bool
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var d dashboardPayload
			if err := opts.getJSON(cmd.Context(), "/api/v1/dashboard", &d); err != nil {
				return err
			}
			list := d.Projects
			if removed {
				list = d.RemovedProjects
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCLIENT\tSTATUS\tEND\tCOST")
			for _, p := range list {
				end := "-"
				if !p.EndDate.IsZero() {
					end = p.EndDate.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Client, p.StatusLabel, end, core.FormatRubles(p.TotalCost))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&removed, "removed", false, "list removed projects instead")
	return cmd
}

func newClientsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List clients with their project counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var clients []clientLine
			if err := opts.getJSON(cmd.Context(), "/api/v1/clients", &clients); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPROJECTS\tREVENUE")
			for _, c := range clients {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ID, c.Name, c.ProjectsCount, core.FormatRubles(c.TotalRevenue))
			}
			return tw.Flush()
		},
	}
}

func newMigrateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(filepath.Dir(opts.dbPath), 0755); err != nil {
				return fmt.Errorf("create db directory: %w", err)
			}
			if err := storage.RunMigrations(opts.dbPath); err != nil {
				return err
			}
			return printVersion(cmd.OutOrStdout(), opts.dbPath)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := storage.RollbackMigrations(opts.dbPath, steps); err != nil {
				return err
			}
			return printVersion(cmd.OutOrStdout(), opts.dbPath)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(cmd.OutOrStdout(), opts.dbPath)
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func printVersion(out io.Writer, dbPath string) error {
	v, dirty, err := storage.MigrationVersion(dbPath)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(out, "schema version %d (dirty)\n", v)
		return nil
	}
	fmt.Fprintf(out, "schema version %d\n", v)
	return nil
}

func newQueueCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the mirror sync queue",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print queue counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(opts.dbPath, func(repo *storage.SQLiteRepository) error {
				s, err := repo.GetSyncQueueStats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pending=%d processing=%d completed=%d failed=%d\n",
					s.PendingCount, s.ProcessingCount, s.CompletedCount, s.FailedCount)
				return nil
			})
		},
	}

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Requeue every failed item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(opts.dbPath, func(repo *storage.SQLiteRepository) error {
				n, err := repo.RetryFailedSyncs(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d items\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(stats, retry)
	return cmd
}

func withRepository(dbPath string, fn func(*storage.SQLiteRepository) error) error {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(repo)
}

func (o *options) get(ctx context.Context, path string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	url := strings.TrimRight(o.serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	client := &http.Client{Timeout: o.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (o *options) getJSON(ctx context.Context, path string, v any) error {
	body, err := o.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
