package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/citewatch/citewatch/internal/models"
)

// UpsertDailyMetric writes one (project, date, platform) aggregate,
// replacing any previous row. Recomputation converges because the write
// is keyed.
func (s *Store) UpsertDailyMetric(ctx context.Context, m *models.DailyMetric) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_metrics (project_id, date, platform, total_queries, mentions, avg_position,
			positive_count, neutral_count, negative_count, competitor_mentions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, date, platform) DO UPDATE SET
			total_queries = excluded.total_queries,
			mentions = excluded.mentions,
			avg_position = excluded.avg_position,
			positive_count = excluded.positive_count,
			neutral_count = excluded.neutral_count,
			negative_count = excluded.negative_count,
			competitor_mentions = excluded.competitor_mentions`,
		m.ProjectID, m.Date, string(m.Platform), m.TotalQueries, m.Mentions, m.AvgPosition,
		m.PositiveCount, m.NeutralCount, m.NegativeCount, m.CompetitorMentions)
	if err != nil {
		return fmt.Errorf("failed to upsert daily metric: %w", err)
	}
	return nil
}

// ListDailyMetrics returns metrics in the inclusive [from, to] date
// range (YYYY-MM-DD strings), optionally for one platform, oldest first.
func (s *Store) ListDailyMetrics(ctx context.Context, projectID, from, to string, platform *models.Platform) ([]models.DailyMetric, error) {
	query := `
		SELECT project_id, date, platform, total_queries, mentions, avg_position,
			positive_count, neutral_count, negative_count, competitor_mentions
		FROM daily_metrics
		WHERE project_id = ? AND date >= ? AND date <= ?`
	args := []any{projectID, from, to}
	if platform != nil {
		query += ` AND platform = ?`
		args = append(args, string(*platform))
	}
	query += ` ORDER BY date ASC, platform ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily metrics: %w", err)
	}
	defer rows.Close()

	var metrics []models.DailyMetric
	for rows.Next() {
		var m models.DailyMetric
		var platformName string
		var avgPosition sql.NullFloat64
		if err := rows.Scan(&m.ProjectID, &m.Date, &platformName, &m.TotalQueries, &m.Mentions,
			&avgPosition, &m.PositiveCount, &m.NeutralCount, &m.NegativeCount, &m.CompetitorMentions); err != nil {
			return nil, fmt.Errorf("failed to scan daily metric: %w", err)
		}
		m.Platform = models.Platform(platformName)
		if avgPosition.Valid {
			m.AvgPosition = &avgPosition.Float64
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
