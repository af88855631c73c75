package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagebeat/pagebeat/internal/metrics"
)

// Project is one row from the project-management database.
type Project struct {
	ID     string
	Active bool
}

// ProjectLister reads the authoritative project activity flags. The project
// database and its schema are owned by external collaborators; this core
// only reads id and active.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]Project, error)
}

// PostgresLister reads projects from Postgres via pgx.
type PostgresLister struct {
	pool *pgxpool.Pool
}

// NewPostgresLister opens a connection pool and verifies connectivity.
func NewPostgresLister(ctx context.Context, dsn string) (*PostgresLister, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresLister{pool: pool}, nil
}

// ListProjects returns every project id with its activity flag.
func (l *PostgresLister) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, active FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Active); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}

	return projects, nil
}

// Close releases the connection pool.
func (l *PostgresLister) Close() {
	l.pool.Close()
}

// Reconciler periodically rewrites the activity cache from the project
// database. With the FailOpen read policy this bounds how long a disabled
// project's traffic is admitted after a cache miss or wipe. Reconciliation
// failures are logged and counted, never fatal.
type Reconciler struct {
	lister   ProjectLister
	cache    *Cache
	interval time.Duration
	logger   *slog.Logger
}

// NewReconciler builds a reconciler syncing lister into cache every interval.
func NewReconciler(lister ProjectLister, cache *Cache, interval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		lister:   lister,
		cache:    cache,
		interval: interval,
		logger:   logger,
	}
}

// Run reconciles once immediately, then on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	if err := r.Reconcile(ctx); err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		r.logger.Warn("activity reconciliation failed", slog.String("error", err.Error()))
		return
	}
	metrics.ReconcileRuns.WithLabelValues("ok").Inc()
}

// Reconcile performs one sync of all project flags into the cache.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	projects, err := r.lister.ListProjects(ctx)
	if err != nil {
		return err
	}

	for _, p := range projects {
		if err := r.cache.SetActive(ctx, p.ID, p.Active); err != nil {
			return fmt.Errorf("project %s: %w", p.ID, err)
		}
	}

	r.logger.Debug("activity cache reconciled", slog.Int("projects", len(projects)))
	return nil
}
