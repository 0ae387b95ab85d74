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

const scoreColumns = `id, project_id, calculated_at, overall_score, grade, frequency_score,
	position_score, diversity_score, context_score, momentum_score, change_7d, change_30d`

// InsertScore appends one scoring run. The series is append-only; the
// current score is simply the newest row.
func (s *Store) InsertScore(ctx context.Context, v *models.VisibilityScore) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visibility_scores (`+scoreColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ProjectID, toMillis(v.CalculatedAt), v.OverallScore, v.Grade,
		v.FrequencyScore, v.PositionScore, v.DiversityScore, v.ContextScore, v.MomentumScore,
		v.Change7d, v.Change30d)
	if err != nil {
		return fmt.Errorf("failed to insert score: %w", err)
	}
	return nil
}

// LatestScore returns the newest score for a project, or ErrNotFound.
func (s *Store) LatestScore(ctx context.Context, projectID string) (*models.VisibilityScore, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scoreColumns+` FROM visibility_scores
		WHERE project_id = ? ORDER BY calculated_at DESC LIMIT 1`, projectID)
	return scanScore(row)
}

// LatestScoreBefore returns the newest score calculated at or before
// the cutoff, inside the scoring snapshot. Supplies the 7d/30d deltas.
func (sn *Snapshot) LatestScoreBefore(ctx context.Context, projectID string, cutoff time.Time) (*models.VisibilityScore, error) {
	row := sn.tx.QueryRowContext(ctx, `
		SELECT `+scoreColumns+` FROM visibility_scores
		WHERE project_id = ? AND calculated_at <= ?
		ORDER BY calculated_at DESC LIMIT 1`,
		projectID, toMillis(cutoff))
	return scanScore(row)
}

// ScoreHistory returns scores from the trailing number of days, oldest
// first.
func (s *Store) ScoreHistory(ctx context.Context, projectID string, days int) ([]models.VisibilityScore, error) {
	since := time.Now().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scoreColumns+` FROM visibility_scores
		WHERE project_id = ? AND calculated_at >= ?
		ORDER BY calculated_at ASC`,
		projectID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	var scores []models.VisibilityScore
	for rows.Next() {
		v, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, *v)
	}
	return scores, rows.Err()
}

func scanScore(row rowScanner) (*models.VisibilityScore, error) {
	var v models.VisibilityScore
	var calculatedAt int64
	var change7d, change30d sql.NullFloat64
	err := row.Scan(&v.ID, &v.ProjectID, &calculatedAt, &v.OverallScore, &v.Grade,
		&v.FrequencyScore, &v.PositionScore, &v.DiversityScore, &v.ContextScore, &v.MomentumScore,
		&change7d, &change30d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cwerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan score: %w", err)
	}
	v.CalculatedAt = fromMillis(calculatedAt)
	if change7d.Valid {
		v.Change7d = &change7d.Float64
	}
	if change30d.Valid {
		v.Change30d = &change30d.Float64
	}
	return &v, nil
}
