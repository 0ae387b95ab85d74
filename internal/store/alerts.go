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

const alertColumns = `id, project_id, alert_type, severity, title, description, keyword_id,
	platform, citation_id, previous_value, current_value, change_percent, is_read, created_at`

// InsertAlert persists one alert.
func (s *Store) InsertAlert(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	var platform any
	if a.Platform != nil {
		platform = string(*a.Platform)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, string(a.AlertType), string(a.Severity), a.Title, a.Description,
		a.KeywordID, platform, a.CitationID, a.PreviousValue, a.CurrentValue, a.ChangePercent,
		boolToInt(a.IsRead), toMillis(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// AlertFilter narrows ListAlerts. Zero values mean "any".
type AlertFilter struct {
	ProjectID  string
	AlertType  models.AlertType
	Severity   models.AlertSeverity
	UnreadOnly bool
	Limit      int
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []any
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.AlertType != "" {
		query += ` AND alert_type = ?`
		args = append(args, string(filter.AlertType))
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(filter.Severity))
	}
	if filter.UnreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// UnreadAlertCounts groups unread alerts by severity, optionally for one
// project.
func (s *Store) UnreadAlertCounts(ctx context.Context, projectID string) (map[models.AlertSeverity]int, error) {
	query := `SELECT severity, COUNT(*) FROM alerts WHERE is_read = 0`
	var args []any
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` GROUP BY severity`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AlertSeverity]int)
	for rows.Next() {
		var severity string
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, fmt.Errorf("failed to scan unread count: %w", err)
		}
		counts[models.AlertSeverity(severity)] = n
	}
	return counts, rows.Err()
}

// MarkAlertRead flags one alert as read.
func (s *Store) MarkAlertRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}
	return requireRow(res)
}

// MarkAllAlertsRead flags every unread alert as read, optionally scoped
// to one project. Returns the number updated.
func (s *Store) MarkAllAlertsRead(ctx context.Context, projectID string) (int64, error) {
	query := `UPDATE alerts SET is_read = 1 WHERE is_read = 0`
	var args []any
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark alerts read: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAlert removes one alert.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	return requireRow(res)
}

// LatestAlertOfType returns the newest alert of a given type for a
// project, or ErrNotFound. Batch checks use it to avoid re-emitting.
func (s *Store) LatestAlertOfType(ctx context.Context, projectID string, alertType models.AlertType, platform *models.Platform) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE project_id = ? AND alert_type = ?`
	args := []any{projectID, string(alertType)}
	if platform != nil {
		query += ` AND platform = ?`
		args = append(args, string(*platform))
	}
	query += ` ORDER BY created_at DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, args...)
	return scanAlert(row)
}

// PurgeAlerts deletes alerts created before the cutoff.
func (s *Store) PurgeAlerts(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge alerts: %w", err)
	}
	return res.RowsAffected()
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var alertType, severity string
	var keywordID, platform, citationID, previousValue, currentValue sql.NullString
	var changePercent sql.NullFloat64
	var isRead int
	var createdAt int64
	err := row.Scan(&a.ID, &a.ProjectID, &alertType, &severity, &a.Title, &a.Description,
		&keywordID, &platform, &citationID, &previousValue, &currentValue, &changePercent,
		&isRead, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cwerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.AlertType = models.AlertType(alertType)
	a.Severity = models.AlertSeverity(severity)
	if keywordID.Valid {
		a.KeywordID = &keywordID.String
	}
	if platform.Valid {
		p := models.Platform(platform.String)
		a.Platform = &p
	}
	if citationID.Valid {
		a.CitationID = &citationID.String
	}
	if previousValue.Valid {
		a.PreviousValue = &previousValue.String
	}
	if currentValue.Valid {
		a.CurrentValue = &currentValue.String
	}
	if changePercent.Valid {
		a.ChangePercent = &changePercent.Float64
	}
	a.IsRead = isRead != 0
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}
