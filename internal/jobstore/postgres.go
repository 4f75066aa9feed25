package jobstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/dvt-pipeline/internal/domain"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

const jobColumns = `id, created_at, updated_at, start_ts, end_ts, filename, filename_version,
	status, warnings, errors, result_uri, staged, profile_uri, profile_start_ts, profile_end_ts`

// PostgresStore keeps job records in the validation_jobs table
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureSchema creates the jobs table when it does not exist yet
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply job schema: %w", err)
	}
	return nil
}

// Create inserts a pending job record
func (s *PostgresStore) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO validation_jobs (` + jobColumns + `)
		VALUES (
			:id, :created_at, :updated_at, :start_ts, :end_ts, :filename, :filename_version,
			:status, :warnings, :errors, :result_uri, :staged, :profile_uri, :profile_start_ts, :profile_end_ts
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug("Job record created",
		slog.String("job_id", job.ID),
		slog.String("filename", job.Filename),
	)

	return nil
}

// Get retrieves a job by id
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM validation_jobs WHERE id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// Update sets only the fields present in update. With RequirePending the
// statement is guarded on status so a terminal record is never rewritten.
func (s *PostgresStore) Update(ctx context.Context, id string, update domain.JobUpdate) (*domain.Job, error) {
	query, args := buildUpdate(id, update, s.now().UTC())

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, args...)
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	// No row matched: either the job is missing or the pending guard failed.
	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if update.RequirePending && current.Status.IsTerminal() {
		return current, fmt.Errorf("%w: %s is %s", domain.ErrTerminalState, id, current.Status)
	}
	return nil, fmt.Errorf("failed to update job %s: no row updated", id)
}

func buildUpdate(id string, u domain.JobUpdate, now time.Time) (string, []any) {
	sets := make([]string, 0, 10)
	args := make([]any, 0, 12)

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Warnings != nil {
		add("warnings", *u.Warnings)
	}
	if u.Errors != nil {
		add("errors", *u.Errors)
	}
	if u.ResultURI != nil {
		add("result_uri", *u.ResultURI)
	}
	if u.EndTS != nil {
		add("end_ts", *u.EndTS)
	}
	if u.Staged != nil {
		add("staged", *u.Staged)
	}
	if u.ProfileURI != nil {
		add("profile_uri", *u.ProfileURI)
	}
	if u.ProfileStartTS != nil {
		add("profile_start_ts", *u.ProfileStartTS)
	}
	if u.ProfileEndTS != nil {
		add("profile_end_ts", *u.ProfileEndTS)
	}
	add("updated_at", now)

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if u.RequirePending {
		args = append(args, string(domain.JobStatusPending))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query := fmt.Sprintf("UPDATE validation_jobs SET %s WHERE %s RETURNING %s",
		strings.Join(sets, ", "), where, jobColumns)
	return query, args
}
