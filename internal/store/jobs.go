package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
)

const jobColumns = `id, project_id, keyword_id, platform, status, scheduled_at, started_at,
	completed_at, retry_count, error_message, citation_found, result_data, created_at`

// CreateJobs bulk-inserts pending jobs. A live job for the same
// (project, keyword, platform, scheduled_at) tuple is a no-op thanks to
// the partial unique index; the job keeps its generated id only when it
// was actually created.
func (s *Store) CreateJobs(ctx context.Context, jobs []*models.TrackingJob) (created, duplicates int, err error) {
	now := time.Now()
	for _, j := range jobs {
		if j.ID == "" {
			j.ID = uuid.New().String()
		}
		if j.Status == "" {
			j.Status = models.JobPending
		}
		j.CreatedAt = now

		res, execErr := s.db.ExecContext(ctx, `
			INSERT INTO tracking_jobs (id, project_id, keyword_id, platform, status, scheduled_at, retry_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?)
			ON CONFLICT DO NOTHING`,
			j.ID, j.ProjectID, j.KeywordID, string(j.Platform), string(j.Status),
			toMillis(j.ScheduledAt), toMillis(now))
		if execErr != nil {
			return created, duplicates, fmt.Errorf("failed to insert job: %w", execErr)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			duplicates++
			j.ID = ""
			continue
		}
		created++
	}
	return created, duplicates, nil
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.TrackingJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM tracking_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ClaimJob atomically transitions a job from pending or retrying to
// processing. Returns false when the row is already processing or
// terminal, in which case the delivery must be discarded.
func (s *Store) ClaimJob(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tracking_jobs SET status = 'processing', started_at = ?
		WHERE id = ? AND status IN ('pending', 'retrying')`,
		toMillis(now), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CompleteJob marks a job finished with its outcome.
func (s *Store) CompleteJob(ctx context.Context, id string, citationFound bool, resultData []byte) error {
	var data any
	if len(resultData) > 0 {
		data = string(resultData)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tracking_jobs SET status = 'completed', completed_at = ?, citation_found = ?, result_data = ?
		WHERE id = ?`,
		toMillis(time.Now()), boolToInt(citationFound), data, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// FailJob marks a job terminally failed.
func (s *Store) FailJob(ctx context.Context, id, errorMessage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tracking_jobs SET status = 'failed', completed_at = ?, error_message = ?
		WHERE id = ?`,
		toMillis(time.Now()), errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// RetryJob increments the retry counter and returns the job to the
// retrying state. The new count decides whether the broker redelivers.
func (s *Store) RetryJob(ctx context.Context, id, errorMessage string) (retryCount int, err error) {
	_, err = s.db.ExecContext(ctx, `
		UPDATE tracking_jobs SET status = 'retrying', retry_count = retry_count + 1, error_message = ?
		WHERE id = ?`,
		errorMessage, id)
	if err != nil {
		return 0, fmt.Errorf("failed to mark job retrying: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT retry_count FROM tracking_jobs WHERE id = ?`, id).Scan(&retryCount)
	if err != nil {
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}
	return retryCount, nil
}

// ReapStaleJobs returns processing jobs whose started_at predates the
// cutoff to the retrying state and reports them for re-enqueueing.
// Recovers work lost to a crashed or killed worker.
func (s *Store) ReapStaleJobs(ctx context.Context, startedBefore time.Time) ([]models.TrackingJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM tracking_jobs
		WHERE status = 'processing' AND started_at < ?`,
		toMillis(startedBefore))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale jobs: %w", err)
	}
	defer rows.Close()

	var stale []models.TrackingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		stale = append(stale, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range stale {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE tracking_jobs SET status = 'retrying' WHERE id = ? AND status = 'processing'`,
			stale[i].ID); err != nil {
			return nil, fmt.Errorf("failed to reap job: %w", err)
		}
		stale[i].Status = models.JobRetrying
	}
	return stale, nil
}

// JobCountsSince groups a project's jobs created after the cutoff by
// (platform, status). Feeds the tracking-status endpoint.
func (s *Store) JobCountsSince(ctx context.Context, projectID string, since time.Time) ([]models.JobCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT platform, status, COUNT(*) FROM tracking_jobs
		WHERE project_id = ? AND created_at >= ?
		GROUP BY platform, status
		ORDER BY platform, status`,
		projectID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	var counts []models.JobCount
	for rows.Next() {
		var platform, status string
		var jc models.JobCount
		if err := rows.Scan(&platform, &status, &jc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		jc.Platform = models.Platform(platform)
		jc.Status = models.JobStatus(status)
		counts = append(counts, jc)
	}
	return counts, rows.Err()
}

// PendingJobCount counts non-terminal jobs for a project.
func (s *Store) PendingJobCount(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tracking_jobs
		WHERE project_id = ? AND status IN ('pending', 'processing', 'retrying')`,
		projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return n, nil
}

// PurgeJobs deletes terminal jobs created before the cutoff. Live jobs
// are never purged.
func (s *Store) PurgeJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tracking_jobs
		WHERE created_at < ? AND status IN ('completed', 'failed')`,
		toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(row rowScanner) (*models.TrackingJob, error) {
	var j models.TrackingJob
	var platform, status string
	var scheduledAt, createdAt int64
	var startedAt, completedAt sql.NullInt64
	var errorMessage, resultData sql.NullString
	var citationFound int
	err := row.Scan(&j.ID, &j.ProjectID, &j.KeywordID, &platform, &status, &scheduledAt,
		&startedAt, &completedAt, &j.RetryCount, &errorMessage, &citationFound, &resultData, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cwerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	j.Platform = models.Platform(platform)
	j.Status = models.JobStatus(status)
	j.ScheduledAt = fromMillis(scheduledAt)
	j.CreatedAt = fromMillis(createdAt)
	j.StartedAt = fromMillisPtr(startedAt)
	j.CompletedAt = fromMillisPtr(completedAt)
	j.CitationFound = citationFound != 0
	if errorMessage.Valid {
		j.ErrorMessage = &errorMessage.String
	}
	if resultData.Valid {
		j.ResultData = []byte(resultData.String)
	}
	return &j, nil
}
