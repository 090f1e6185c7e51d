package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

const userColumns = `id, name, email, password_hash, is_deleted, deleted_at, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsDeleted, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, password_hash, is_deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5, $6)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetActiveUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1) AND NOT is_deleted`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active user by email: %w", err)
	}
	return u, nil
}

// GetDeletedUserByEmail returns the most recently deleted account holding email.
func (s *PostgresStore) GetDeletedUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1) AND is_deleted
		 ORDER BY deleted_at DESC LIMIT 1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deleted user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, id uuid.UUID, name, email string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET name = $2, email = $3, updated_at = NOW()
		 WHERE id = $1 AND NOT is_deleted
		 RETURNING `+userColumns, id, name, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("update user profile: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1 AND NOT is_deleted`,
		id, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SoftDeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_deleted = TRUE, deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReactivateUser clears the delete flag. ErrDuplicateKey means an active account
// now holds the same email.
func (s *PostgresStore) ReactivateUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET is_deleted = FALSE, deleted_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND is_deleted
		 RETURNING `+userColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("reactivate user: %w", err)
	}
	return u, nil
}

// --- Jobs ---

// jobColumns lists job columns in scanJob order. Heavy columns are replaced by
// typed placeholders unless requested.
func jobColumns(withText, withResults bool) string {
	text := `''::text`
	if withText {
		text = `text_content`
	}
	results := `NULL::jsonb`
	if withResults {
		results = `results`
	}
	return `id, user_id, batch_id, filename, original_filename, file_path, file_size, file_type, ` + text + `, parallel_workers,
		status, progress, error_message, total_lines, processing_time_ms, workers_used, average_sentiment,
		sentiment_distribution, ` + results + `,
		created_at, updated_at, started_at, completed_at, failed_at, cancelled_at`
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var distribution, results []byte
	err := row.Scan(&j.ID, &j.UserID, &j.BatchID, &j.Filename, &j.OriginalFilename, &j.FilePath,
		&j.FileSize, &j.FileType, &j.TextContent, &j.ParallelWorkers,
		&j.Status, &j.Progress, &j.ErrorMessage, &j.TotalLines, &j.ProcessingTimeMs, &j.WorkersUsed,
		&j.AverageSentiment, &distribution, &results,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt, &j.FailedAt, &j.CancelledAt)
	if err != nil {
		return nil, err
	}
	if distribution != nil {
		var d models.SentimentDistribution
		if err := json.Unmarshal(distribution, &d); err != nil {
			return nil, fmt.Errorf("decode sentiment distribution: %w", err)
		}
		j.SentimentDistribution = &d
	}
	if results != nil {
		if err := json.Unmarshal(results, &j.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, batch_id, filename, original_filename, file_path, file_size, file_type,
		   text_content, parallel_workers, status, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.UserID, job.BatchID, job.Filename, job.OriginalFilename, job.FilePath, job.FileSize,
		job.FileType, job.TextContent, job.ParallelWorkers, job.Status, job.Progress, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns(true, true)+` FROM jobs WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListBatchJobs(ctx context.Context, batchID string, userID uuid.UUID) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns(false, true)+` FROM jobs WHERE batch_id = $1 AND user_id = $2 ORDER BY created_at, id`,
		batchID, userID)
	if err != nil {
		return nil, fmt.Errorf("list batch jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// TransitionJob moves a job to status `to` in a single conditional UPDATE. The
// write only lands if the current status is an allowed source for `to`, so a
// concurrent cancel and completion cannot both succeed.
func (s *PostgresStore) TransitionJob(ctx context.Context, id uuid.UUID, to string, opts ...JobUpdateOption) error {
	params := NewJobUpdate(opts...)
	if err := params.Validate(to); err != nil {
		return err
	}

	now := time.Now().UTC()
	sets := []string{"status = $3", "progress = $4", "updated_at = $5"}
	args := []any{id, models.AllowedSources(to), to, models.ProgressFor(to), now}
	argIdx := 6

	switch to {
	case models.JobStatusProcessing:
		sets = append(sets, "started_at = $5")
	case models.JobStatusCompleted:
		out := params.Output
		dist, err := json.Marshal(out.SentimentDistribution)
		if err != nil {
			return fmt.Errorf("encode sentiment distribution: %w", err)
		}
		results := out.Results
		if results == nil {
			results = []models.LineResult{}
		}
		res, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		sets = append(sets, "completed_at = $5",
			fmt.Sprintf("total_lines = $%d", argIdx),
			fmt.Sprintf("processing_time_ms = $%d", argIdx+1),
			fmt.Sprintf("workers_used = $%d", argIdx+2),
			fmt.Sprintf("average_sentiment = $%d", argIdx+3),
			fmt.Sprintf("sentiment_distribution = $%d", argIdx+4),
			fmt.Sprintf("results = $%d", argIdx+5))
		args = append(args, out.TotalLines, out.ProcessingTimeMs, out.WorkersUsed, out.AverageSentiment, dist, res)
		argIdx += 6
	case models.JobStatusFailed:
		sets = append(sets, "failed_at = $5", fmt.Sprintf("error_message = $%d", argIdx))
		args = append(args, *params.ErrorMessage)
		argIdx++
	case models.JobStatusCancelled:
		sets = append(sets, "cancelled_at = $5")
	}

	where := "id = $1 AND status = ANY($2)"
	if params.OwnerID != nil {
		where += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, *params.OwnerID)
	}

	tag, err := s.pool.Exec(ctx, "UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE "+where, args...)
	if err != nil {
		return fmt.Errorf("transition job to %s: %w", to, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if params.OwnerID != nil {
		err = s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1 AND user_id = $2)`, id, *params.OwnerID).Scan(&exists)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists)
	}
	if err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

// CancelJob cancels a pending or processing job owned by userID. Jobs that are
// already terminal report ErrNotFound and are left untouched.
func (s *PostgresStore) CancelJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $3, progress = 0, cancelled_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND status = ANY($4)
		 RETURNING `+jobColumns(false, false),
		id, userID, models.JobStatusCancelled, models.AllowedSources(models.JobStatusCancelled)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	return j, nil
}

// DeleteJob removes a job only when it is in a terminal status.
func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE id = $1 AND user_id = $2 AND status = ANY($3)`,
		id, userID, models.TerminalStatuses())
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"user_id = $1"}
	args := []any{filter.UserID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, filter.From)
		argIdx++
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, filter.To)
		argIdx++
	}
	if filter.Filename != "" {
		conditions = append(conditions, fmt.Sprintf("original_filename ILIKE $%d", argIdx))
		args = append(args, likePattern(filter.Filename))
		argIdx++
	}
	if filter.Query != "" {
		conditions = append(conditions,
			fmt.Sprintf("(original_filename ILIKE $%d OR text_content ILIKE $%d)", argIdx, argIdx))
		args = append(args, likePattern(filter.Query))
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	page, limit := NormalizePage(filter.Page, filter.Limit)
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		jobColumns(filter.IncludeText, filter.IncludeResults), where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// FailStaleJobs marks jobs stuck in pending or processing since before `before`
// as failed and returns how many were updated.
func (s *PostgresStore) FailStaleJobs(ctx context.Context, before time.Time, message string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', progress = 0, error_message = $2, failed_at = NOW(), updated_at = NOW()
		 WHERE status IN ('pending', 'processing') AND updated_at < $1`, before, message)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Aggregates ---

func (s *PostgresStore) JobTotals(ctx context.Context, userID uuid.UUID) (*JobTotals, error) {
	var t JobTotals
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COALESCE(SUM(total_lines) FILTER (WHERE status = 'completed'), 0)::bigint,
		        COALESCE(AVG(average_sentiment) FILTER (WHERE status = 'completed'), 0)::float8,
		        COALESCE(AVG(processing_time_ms) FILTER (WHERE status = 'completed'), 0)::float8
		 FROM jobs WHERE user_id = $1`, userID,
	).Scan(&t.Total, &t.Completed, &t.Failed, &t.TotalLines, &t.AverageSentiment, &t.AverageProcessingMs)
	if err != nil {
		return nil, fmt.Errorf("job totals: %w", err)
	}
	return &t, nil
}

// PeriodStats aggregates jobs completed in [from, to). A zero `to` leaves the
// window open-ended.
func (s *PostgresStore) PeriodStats(ctx context.Context, userID uuid.UUID, from, to time.Time) (*PeriodStats, error) {
	query := `SELECT COUNT(*),
	                 COALESCE(SUM(total_lines), 0)::bigint,
	                 COALESCE(AVG(average_sentiment), 0)::float8
	          FROM jobs WHERE user_id = $1 AND status = 'completed' AND completed_at >= $2`
	args := []any{userID, from}
	if !to.IsZero() {
		query += ` AND completed_at < $3`
		args = append(args, to)
	}

	var p PeriodStats
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&p.FilesProcessed, &p.LinesAnalyzed, &p.AverageSentiment); err != nil {
		return nil, fmt.Errorf("period stats: %w", err)
	}
	return &p, nil
}

// RecentSentiment sums the label counts of the user's most recent completed jobs.
func (s *PostgresStore) RecentSentiment(ctx context.Context, userID uuid.UUID, jobs int) (*models.SentimentDistribution, error) {
	var d models.SentimentDistribution
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM((sentiment_distribution->>'positive')::int), 0),
		        COALESCE(SUM((sentiment_distribution->>'neutral')::int), 0),
		        COALESCE(SUM((sentiment_distribution->>'negative')::int), 0)
		 FROM (
		   SELECT sentiment_distribution FROM jobs
		   WHERE user_id = $1 AND status = 'completed' AND sentiment_distribution IS NOT NULL
		   ORDER BY completed_at DESC LIMIT $2
		 ) recent`, userID, jobs,
	).Scan(&d.Positive, &d.Neutral, &d.Negative)
	if err != nil {
		return nil, fmt.Errorf("recent sentiment: %w", err)
	}
	return &d, nil
}

// likePattern escapes LIKE metacharacters and wraps term for a substring match.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// isDuplicateKeyError checks if a PostgreSQL error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
