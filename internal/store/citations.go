package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
)

// querier lets citation reads run against the pool or a snapshot
// transaction with the same code.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const citationColumns = `id, project_id, keyword_id, platform, tracked_at, domain_mentioned,
	citation_position, citation_context, full_response_text, response_summary,
	sentiment, confidence_score, word_count, competitor_citations, total_sources_cited, response_time_ms`

// InsertCitation persists one citation in a single write.
func (s *Store) InsertCitation(ctx context.Context, c *models.Citation) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	competitors, err := json.Marshal(c.CompetitorCitations)
	if err != nil {
		return fmt.Errorf("failed to marshal competitor citations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO citations (`+citationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.KeywordID, string(c.Platform), toMillis(c.TrackedAt),
		boolToInt(c.DomainMentioned), c.CitationPosition, c.CitationContext,
		c.FullResponseText, c.ResponseSummary, string(c.Sentiment), c.ConfidenceScore,
		c.WordCount, string(competitors), c.TotalSourcesCited, c.ResponseTimeMs)
	if err != nil {
		return fmt.Errorf("failed to insert citation: %w", err)
	}
	return nil
}

// LatestCitationBefore returns the most recent citation for a
// (keyword, platform) pair tracked strictly before the given time, or
// ErrNotFound. This is the "previous" side of the alert diff.
func (s *Store) LatestCitationBefore(ctx context.Context, keywordID string, platform models.Platform, before time.Time) (*models.Citation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+citationColumns+` FROM citations
		WHERE keyword_id = ? AND platform = ? AND tracked_at < ?
		ORDER BY tracked_at DESC LIMIT 1`,
		keywordID, string(platform), toMillis(before))
	return scanCitation(row)
}

// CitationsInWindow returns a project's citations with tracked_at in
// [from, to], oldest first.
func (s *Store) CitationsInWindow(ctx context.Context, projectID string, from, to time.Time) ([]models.Citation, error) {
	return citationsInWindow(ctx, s.db, projectID, from, to)
}

// CitationsInWindow is the snapshot variant used by scoring runs.
func (sn *Snapshot) CitationsInWindow(ctx context.Context, projectID string, from, to time.Time) ([]models.Citation, error) {
	return citationsInWindow(ctx, sn.tx, projectID, from, to)
}

func citationsInWindow(ctx context.Context, q querier, projectID string, from, to time.Time) ([]models.Citation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+citationColumns+` FROM citations
		WHERE project_id = ? AND tracked_at >= ? AND tracked_at <= ?
		ORDER BY tracked_at ASC`,
		projectID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query citations: %w", err)
	}
	defer rows.Close()

	var citations []models.Citation
	for rows.Next() {
		c, err := scanCitation(rows)
		if err != nil {
			return nil, err
		}
		citations = append(citations, *c)
	}
	return citations, rows.Err()
}

// ActiveKeywordCount counts a project's active keywords inside the
// snapshot.
func (sn *Snapshot) ActiveKeywordCount(ctx context.Context, projectID string) (int, error) {
	var n int
	err := sn.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM keywords WHERE project_id = ? AND is_active = 1`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count keywords: %w", err)
	}
	return n, nil
}

// HasSelfCitationBefore reports whether the project ever had a
// self-mention on the platform strictly before the given time. Drives
// the new_platform batch alert.
func (sn *Snapshot) HasSelfCitationBefore(ctx context.Context, projectID string, platform models.Platform, before time.Time) (bool, error) {
	var n int
	err := sn.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM citations
		WHERE project_id = ? AND platform = ? AND domain_mentioned = 1 AND tracked_at < ?
		LIMIT 1`,
		projectID, string(platform), toMillis(before)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check platform history: %w", err)
	}
	return n > 0, nil
}

// PurgeCitations deletes citations tracked before the cutoff.
func (s *Store) PurgeCitations(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM citations WHERE tracked_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge citations: %w", err)
	}
	return res.RowsAffected()
}

func scanCitation(row rowScanner) (*models.Citation, error) {
	var c models.Citation
	var platform, sentiment, competitors string
	var mentioned int
	var trackedAt int64
	var position sql.NullInt64
	var context sql.NullString
	err := row.Scan(&c.ID, &c.ProjectID, &c.KeywordID, &platform, &trackedAt, &mentioned,
		&position, &context, &c.FullResponseText, &c.ResponseSummary,
		&sentiment, &c.ConfidenceScore, &c.WordCount, &competitors, &c.TotalSourcesCited, &c.ResponseTimeMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cwerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan citation: %w", err)
	}
	c.Platform = models.Platform(platform)
	c.Sentiment = models.Sentiment(sentiment)
	c.TrackedAt = fromMillis(trackedAt)
	c.DomainMentioned = mentioned != 0
	if position.Valid {
		p := int(position.Int64)
		c.CitationPosition = &p
	}
	if context.Valid {
		c.CitationContext = &context.String
	}
	if err := json.Unmarshal([]byte(competitors), &c.CompetitorCitations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal competitor citations: %w", err)
	}
	return &c, nil
}
