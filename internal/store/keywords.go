package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
)

// CreateKeyword inserts a keyword. Text is trimmed but case-preserved;
// (project_id, keyword_text) is unique.
func (s *Store) CreateKeyword(ctx context.Context, k *models.Keyword) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	k.KeywordText = strings.TrimSpace(k.KeywordText)
	if k.KeywordText == "" {
		return fmt.Errorf("%w: keyword text is empty", cwerrors.ErrInvalidInput)
	}
	if k.PriorityLevel < 1 || k.PriorityLevel > 5 {
		return fmt.Errorf("%w: priority level must be 1..5", cwerrors.ErrInvalidInput)
	}

	now := time.Now()
	k.CreatedAt = now
	k.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keywords (id, project_id, keyword_text, priority_level, funnel_stage, is_active, last_tracked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.ProjectID, k.KeywordText, k.PriorityLevel, string(k.FunnelStage),
		boolToInt(k.IsActive), toMillisPtr(k.LastTrackedAt), toMillis(now), toMillis(now))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: keyword %q already tracked in project", cwerrors.ErrDuplicate, k.KeywordText)
	}
	if err != nil {
		return fmt.Errorf("failed to insert keyword: %w", err)
	}
	return nil
}

// GetKeyword loads one keyword by id.
func (s *Store) GetKeyword(ctx context.Context, id string) (*models.Keyword, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, keyword_text, priority_level, funnel_stage, is_active, last_tracked_at, created_at, updated_at
		FROM keywords WHERE id = ?`, id)
	return scanKeyword(row)
}

// ListKeywords returns a project's keywords ordered by priority then
// text.
func (s *Store) ListKeywords(ctx context.Context, projectID string, activeOnly bool) ([]models.Keyword, error) {
	query := `
		SELECT id, project_id, keyword_text, priority_level, funnel_stage, is_active, last_tracked_at, created_at, updated_at
		FROM keywords WHERE project_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY priority_level DESC, keyword_text ASC`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer rows.Close()

	var keywords []models.Keyword
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, err
		}
		keywords = append(keywords, *k)
	}
	return keywords, rows.Err()
}

// KeywordUpdate carries optional field updates; nil fields stay
// untouched.
type KeywordUpdate struct {
	KeywordText   *string
	PriorityLevel *int
	FunnelStage   *models.FunnelStage
	IsActive      *bool
}

// UpdateKeyword applies the non-nil fields of upd to a keyword.
func (s *Store) UpdateKeyword(ctx context.Context, id string, upd KeywordUpdate) (*models.Keyword, error) {
	k, err := s.GetKeyword(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.KeywordText != nil {
		text := strings.TrimSpace(*upd.KeywordText)
		if text == "" {
			return nil, fmt.Errorf("%w: keyword text is empty", cwerrors.ErrInvalidInput)
		}
		k.KeywordText = text
	}
	if upd.PriorityLevel != nil {
		if *upd.PriorityLevel < 1 || *upd.PriorityLevel > 5 {
			return nil, fmt.Errorf("%w: priority level must be 1..5", cwerrors.ErrInvalidInput)
		}
		k.PriorityLevel = *upd.PriorityLevel
	}
	if upd.FunnelStage != nil {
		k.FunnelStage = *upd.FunnelStage
	}
	if upd.IsActive != nil {
		k.IsActive = *upd.IsActive
	}
	k.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		UPDATE keywords SET keyword_text = ?, priority_level = ?, funnel_stage = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		k.KeywordText, k.PriorityLevel, string(k.FunnelStage), boolToInt(k.IsActive), toMillis(k.UpdatedAt), id)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: keyword %q already tracked in project", cwerrors.ErrDuplicate, k.KeywordText)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update keyword: %w", err)
	}
	return k, nil
}

// DeleteKeyword removes a keyword and its citations and jobs.
func (s *Store) DeleteKeyword(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM keywords WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete keyword: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	for _, table := range []string{"citations", "tracking_jobs"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE keyword_id = ?`, id); err != nil {
			return fmt.Errorf("failed to cascade delete %s: %w", table, err)
		}
	}
	return nil
}

// TouchKeywordTracked stamps last_tracked_at after a tracking pass.
func (s *Store) TouchKeywordTracked(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE keywords SET last_tracked_at = ?, updated_at = ? WHERE id = ?`,
		toMillis(at), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to touch keyword: %w", err)
	}
	return nil
}

func scanKeyword(row rowScanner) (*models.Keyword, error) {
	var k models.Keyword
	var stage string
	var isActive int
	var lastTracked sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&k.ID, &k.ProjectID, &k.KeywordText, &k.PriorityLevel, &stage,
		&isActive, &lastTracked, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cwerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan keyword: %w", err)
	}
	k.FunnelStage = models.FunnelStage(stage)
	k.IsActive = isActive != 0
	k.LastTrackedAt = fromMillisPtr(lastTracked)
	k.CreatedAt = fromMillis(createdAt)
	k.UpdatedAt = fromMillis(updatedAt)
	return &k, nil
}
