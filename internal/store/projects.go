package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/normalize"
)

// MaxCompetitorDomains caps the competitor list per project.
const MaxCompetitorDomains = 10

// CreateProject inserts a project. Domains are normalized on the way in
// and the primary domain may never appear among the competitors.
func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.PrimaryDomain = normalize.NormalizeDomain(p.PrimaryDomain)
	normalized, err := normalizeCompetitors(p.CompetitorDomains, p.PrimaryDomain)
	if err != nil {
		return err
	}
	p.CompetitorDomains = normalized

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	competitors, err := json.Marshal(p.CompetitorDomains)
	if err != nil {
		return fmt.Errorf("failed to marshal competitors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, primary_domain, competitor_domains, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.PrimaryDomain, string(competitors), boolToInt(p.IsActive), toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// GetProject loads one project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, primary_domain, competitor_domains, is_active, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns projects, optionally only active ones, newest
// first.
func (s *Store) ListProjects(ctx context.Context, activeOnly bool) ([]models.Project, error) {
	query := `
		SELECT id, name, primary_domain, competitor_domains, is_active, created_at, updated_at
		FROM projects`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// ProjectUpdate carries optional field updates; nil fields stay
// untouched.
type ProjectUpdate struct {
	Name              *string
	PrimaryDomain     *string
	CompetitorDomains *[]string
	IsActive          *bool
}

// UpdateProject applies the non-nil fields of upd to a project.
func (s *Store) UpdateProject(ctx context.Context, id string, upd ProjectUpdate) (*models.Project, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.PrimaryDomain != nil {
		p.PrimaryDomain = normalize.NormalizeDomain(*upd.PrimaryDomain)
	}
	if upd.CompetitorDomains != nil {
		p.CompetitorDomains = *upd.CompetitorDomains
	}
	if upd.IsActive != nil {
		p.IsActive = *upd.IsActive
	}

	normalized, err := normalizeCompetitors(p.CompetitorDomains, p.PrimaryDomain)
	if err != nil {
		return nil, err
	}
	p.CompetitorDomains = normalized
	p.UpdatedAt = time.Now()

	competitors, err := json.Marshal(p.CompetitorDomains)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal competitors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, primary_domain = ?, competitor_domains = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.PrimaryDomain, string(competitors), boolToInt(p.IsActive), toMillis(p.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return p, nil
}

// ArchiveProject soft-deletes a project by deactivating it.
func (s *Store) ArchiveProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET is_active = 0, updated_at = ? WHERE id = ?`, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to archive project: %w", err)
	}
	return requireRow(res)
}

// DeleteProject removes a project and everything it owns.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	// Citations, jobs, metrics, scores and alerts carry the project id
	// without FK ties to keep writes cheap; cascade by hand.
	for _, table := range []string{"citations", "tracking_jobs", "daily_metrics", "visibility_scores", "alerts"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("failed to cascade delete %s: %w", table, err)
		}
	}
	return nil
}

// AddCompetitor appends a competitor domain to a project.
func (s *Store) AddCompetitor(ctx context.Context, projectID, domain string) (*models.Project, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	d := normalize.NormalizeDomain(domain)
	for _, existing := range p.CompetitorDomains {
		if existing == d {
			return nil, fmt.Errorf("%w: competitor %s", cwerrors.ErrDuplicate, d)
		}
	}
	competitors := append(append([]string{}, p.CompetitorDomains...), d)
	return s.UpdateProject(ctx, projectID, ProjectUpdate{CompetitorDomains: &competitors})
}

// RemoveCompetitor drops a competitor domain from a project.
func (s *Store) RemoveCompetitor(ctx context.Context, projectID, domain string) (*models.Project, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	d := normalize.NormalizeDomain(domain)
	competitors := make([]string, 0, len(p.CompetitorDomains))
	for _, existing := range p.CompetitorDomains {
		if existing != d {
			competitors = append(competitors, existing)
		}
	}
	if len(competitors) == len(p.CompetitorDomains) {
		return nil, fmt.Errorf("%w: competitor %s", cwerrors.ErrNotFound, d)
	}
	return s.UpdateProject(ctx, projectID, ProjectUpdate{CompetitorDomains: &competitors})
}

func normalizeCompetitors(domains []string, primaryDomain string) ([]string, error) {
	if len(domains) > MaxCompetitorDomains {
		return nil, fmt.Errorf("%w: at most %d competitor domains", cwerrors.ErrInvalidInput, MaxCompetitorDomains)
	}
	normalized := make([]string, 0, len(domains))
	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		n := normalize.NormalizeDomain(d)
		if n == "" || seen[n] {
			continue
		}
		if n == primaryDomain {
			return nil, fmt.Errorf("%w: primary domain cannot be a competitor", cwerrors.ErrInvalidInput)
		}
		seen[n] = true
		normalized = append(normalized, n)
	}
	return normalized, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	var competitors string
	var isActive int
	var createdAt, updatedAt int64
	err := row.Scan(&p.ID, &p.Name, &p.PrimaryDomain, &competitors, &isActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cwerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	if err := json.Unmarshal([]byte(competitors), &p.CompetitorDomains); err != nil {
		return nil, fmt.Errorf("failed to unmarshal competitors: %w", err)
	}
	p.IsActive = isActive != 0
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return cwerrors.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
