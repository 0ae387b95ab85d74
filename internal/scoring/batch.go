package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	cwerrors "github.com/citewatch/citewatch/internal/errors"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/store"
)

// Batch alert thresholds. The per-citation diff never emits these
// types; they only fire from the scoring pass.
const (
	// volumeSpikeMinimum is the absolute floor: fewer self-citations
	// than this never count as a spike regardless of the ratio.
	volumeSpikeMinimum = 5
	// volumeSpikeFactor compares today against the trailing 7-day
	// daily average.
	volumeSpikeFactor = 2.0
	// competitorGainPoints is the minimum share-of-voice gain, in
	// percentage points week over week, that flags a competitor.
	competitorGainPoints = 10.0
)

// RunBatchChecks evaluates the three aggregate alert rules for one
// project: new_platform, volume_spike and competitor_gain. Emission is
// skipped when the sink is nil or the rule already fired for the
// current period.
func (s *Service) RunBatchChecks(ctx context.Context, projectID string, now time.Time) error {
	if s.alerts == nil {
		return nil
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	sn, err := s.store.BeginSnapshot(ctx)
	if err != nil {
		return err
	}
	pending, err := s.collectBatchAlerts(ctx, sn, project, now)
	sn.Close()
	if err != nil {
		return err
	}

	for _, alert := range pending {
		if s.alreadyAlerted(ctx, alert, now) {
			continue
		}
		s.alerts.Emit(ctx, alert)
	}
	return nil
}

func (s *Service) collectBatchAlerts(ctx context.Context, sn *store.Snapshot, project *models.Project, now time.Time) ([]models.Alert, error) {
	dayStart := now.UTC().Truncate(24 * time.Hour)

	today, err := sn.CitationsInWindow(ctx, project.ID, dayStart, now)
	if err != nil {
		return nil, err
	}
	trailing, err := sn.CitationsInWindow(ctx, project.ID, dayStart.AddDate(0, 0, -7), dayStart.Add(-time.Millisecond))
	if err != nil {
		return nil, err
	}
	last7, err := sn.CitationsInWindow(ctx, project.ID, now.AddDate(0, 0, -7), now)
	if err != nil {
		return nil, err
	}
	prior7, err := sn.CitationsInWindow(ctx, project.ID, now.AddDate(0, 0, -14), now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}

	var alerts []models.Alert

	platformAlerts, err := newPlatformAlerts(ctx, sn, project, today)
	if err != nil {
		return nil, err
	}
	alerts = append(alerts, platformAlerts...)

	if a := volumeSpikeAlert(project, today, trailing); a != nil {
		alerts = append(alerts, *a)
	}
	alerts = append(alerts, competitorGainAlerts(project, last7, prior7)...)
	return alerts, nil
}

// newPlatformAlerts fires once per (project, platform) the first time
// the primary domain is ever cited there.
func newPlatformAlerts(ctx context.Context, sn *store.Snapshot, project *models.Project, today []models.Citation) ([]models.Alert, error) {
	self := lo.Filter(today, func(c models.Citation, _ int) bool { return c.DomainMentioned })
	byPlatform := lo.GroupBy(self, func(c models.Citation) models.Platform { return c.Platform })

	var alerts []models.Alert
	for platform, group := range byPlatform {
		earliest := group[0].TrackedAt
		for _, c := range group[1:] {
			if c.TrackedAt.Before(earliest) {
				earliest = c.TrackedAt
			}
		}
		seen, err := sn.HasSelfCitationBefore(ctx, project.ID, platform, earliest)
		if err != nil {
			return nil, err
		}
		if seen {
			continue
		}
		p := platform
		alerts = append(alerts, models.Alert{
			ProjectID:   project.ID,
			AlertType:   models.AlertNewPlatform,
			Severity:    models.SeverityInfo,
			Title:       fmt.Sprintf("First citation on %s", platform),
			Description: fmt.Sprintf("%s is now cited on %s for the first time.", project.PrimaryDomain, platform),
			Platform:    &p,
		})
	}
	return alerts, nil
}

// volumeSpikeAlert compares today's self-citation count against the
// trailing 7-day daily average.
func volumeSpikeAlert(project *models.Project, today, trailing []models.Citation) *models.Alert {
	count := lo.CountBy(today, func(c models.Citation) bool { return c.DomainMentioned })
	if count < volumeSpikeMinimum {
		return nil
	}
	avg := float64(lo.CountBy(trailing, func(c models.Citation) bool { return c.DomainMentioned })) / 7
	if float64(count) < volumeSpikeFactor*avg {
		return nil
	}

	prev := fmt.Sprintf("%.2f", avg)
	curr := fmt.Sprintf("%d", count)
	return &models.Alert{
		ProjectID:     project.ID,
		AlertType:     models.AlertVolumeSpike,
		Severity:      models.SeverityWarning,
		Title:         "Citation volume spike",
		Description:   fmt.Sprintf("%d citations today vs a %.2f daily average over the last week.", count, avg),
		PreviousValue: &prev,
		CurrentValue:  &curr,
	}
}

// competitorGainAlerts flags configured competitors whose 7-day share
// of voice climbed sharply against the prior 7 days.
func competitorGainAlerts(project *models.Project, last7, prior7 []models.Citation) []models.Alert {
	currentTotal, currentMentions := domainMentions(project, last7)
	priorTotal, priorMentions := domainMentions(project, prior7)

	var alerts []models.Alert
	for _, domain := range project.CompetitorDomains {
		current, prior := 0.0, 0.0
		if currentTotal > 0 {
			current = float64(currentMentions[domain]) / float64(currentTotal) * 100
		}
		if priorTotal > 0 {
			prior = float64(priorMentions[domain]) / float64(priorTotal) * 100
		}
		gain := current - prior
		if gain < competitorGainPoints {
			continue
		}

		prevStr := fmt.Sprintf("%.2f", prior)
		currStr := fmt.Sprintf("%.2f", current)
		change := round2(gain)
		alerts = append(alerts, models.Alert{
			ProjectID:     project.ID,
			AlertType:     models.AlertCompetitorGain,
			Severity:      models.SeverityWarning,
			Title:         fmt.Sprintf("Competitor gaining ground: %s", domain),
			Description:   fmt.Sprintf("%s share of voice moved from %.2f%% to %.2f%% week over week.", domain, prior, current),
			PreviousValue: &prevStr,
			CurrentValue:  &currStr,
			ChangePercent: &change,
		})
	}
	return alerts
}

// alreadyAlerted suppresses duplicate batch alerts: new_platform fires
// at most once per (project, platform) ever; the other types at most
// once per project per UTC day.
func (s *Service) alreadyAlerted(ctx context.Context, alert models.Alert, now time.Time) bool {
	latest, err := s.store.LatestAlertOfType(ctx, alert.ProjectID, alert.AlertType, alert.Platform)
	if errors.Is(err, cwerrors.ErrNotFound) {
		return false
	}
	if err != nil {
		return false
	}
	if alert.AlertType == models.AlertNewPlatform {
		return true
	}
	return store.DateString(latest.CreatedAt) == store.DateString(now)
}
