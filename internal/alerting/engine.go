// Package alerting turns citation transitions into persisted alerts.
// The per-citation diff covers new/lost citations, position jumps and
// sentiment shifts; the batch checks for competitor_gain, new_platform
// and volume_spike live in the scoring pipeline, which feeds its alerts
// through this engine's sink.
package alerting

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/store"
)

// positionChangeThreshold is the minimum absolute rank move that emits
// a position_change alert.
const positionChangeThreshold = 2

// Engine evaluates citation diffs and persists the resulting alerts.
// Persistence is best-effort: a store failure is logged and never fails
// the tracking job that triggered it.
type Engine struct {
	store *store.Store

	mu      sync.RWMutex
	onAlert []func(models.Alert)
}

// NewEngine wires an alert engine over the store.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// OnAlert registers a callback invoked after an alert persists. Used
// for the websocket broadcast and webhook fan-out, both best-effort.
func (e *Engine) OnAlert(fn func(models.Alert)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAlert = append(e.onAlert, fn)
}

// ProcessCitation diffs the new citation against the previous one for
// the same (keyword, platform) and persists whatever alerts the
// transition produced. previous is nil for a first-ever citation.
func (e *Engine) ProcessCitation(ctx context.Context, previous, current *models.Citation) {
	for _, alert := range Diff(previous, current) {
		e.Emit(ctx, alert)
	}
}

// Emit persists one alert best-effort and notifies subscribers on
// success.
func (e *Engine) Emit(ctx context.Context, alert models.Alert) {
	if err := e.store.InsertAlert(ctx, &alert); err != nil {
		log.Error().Err(err).
			Str("projectId", alert.ProjectID).
			Str("type", string(alert.AlertType)).
			Msg("Failed to persist alert")
		return
	}
	log.Info().
		Str("projectId", alert.ProjectID).
		Str("type", string(alert.AlertType)).
		Str("severity", string(alert.Severity)).
		Msg("Alert created")

	e.mu.RLock()
	callbacks := e.onAlert
	e.mu.RUnlock()
	for _, fn := range callbacks {
		fn(alert)
	}
}

// Diff computes the alerts for one citation transition. Pure so tests
// can pin every transition class.
func Diff(previous, current *models.Citation) []models.Alert {
	if current == nil {
		return nil
	}

	base := func(t models.AlertType, severity models.AlertSeverity) models.Alert {
		platform := current.Platform
		return models.Alert{
			ProjectID:  current.ProjectID,
			AlertType:  t,
			Severity:   severity,
			KeywordID:  &current.KeywordID,
			Platform:   &platform,
			CitationID: &current.ID,
		}
	}

	var alerts []models.Alert

	if previous == nil {
		if current.DomainMentioned {
			a := base(models.AlertNewCitation, models.SeverityInfo)
			a.Title = fmt.Sprintf("New citation on %s", current.Platform)
			a.Description = "Your domain is now cited for this keyword."
			if current.CitationPosition != nil {
				v := strconv.Itoa(*current.CitationPosition)
				a.CurrentValue = &v
			}
			alerts = append(alerts, a)
		}
		return alerts
	}

	if previous.DomainMentioned && !current.DomainMentioned {
		a := base(models.AlertLostCitation, models.SeverityWarning)
		a.Title = fmt.Sprintf("Lost citation on %s", current.Platform)
		a.Description = "Your domain is no longer cited for this keyword."
		if previous.CitationPosition != nil {
			v := strconv.Itoa(*previous.CitationPosition)
			a.PreviousValue = &v
		}
		alerts = append(alerts, a)
	}

	if previous.DomainMentioned && current.DomainMentioned &&
		previous.CitationPosition != nil && current.CitationPosition != nil {
		prev, curr := *previous.CitationPosition, *current.CitationPosition
		if delta := prev - curr; math.Abs(float64(delta)) >= positionChangeThreshold {
			severity := models.SeverityInfo
			title := fmt.Sprintf("Position improved on %s", current.Platform)
			if delta < 0 {
				severity = models.SeverityWarning
				title = fmt.Sprintf("Position dropped on %s", current.Platform)
			}
			a := base(models.AlertPositionChange, severity)
			a.Title = title
			a.Description = fmt.Sprintf("Citation position moved from %d to %d.", prev, curr)
			prevStr, currStr := strconv.Itoa(prev), strconv.Itoa(curr)
			a.PreviousValue = &prevStr
			a.CurrentValue = &currStr
			change := round2(float64(prev-curr) / float64(prev) * 100)
			a.ChangePercent = &change
			alerts = append(alerts, a)
		}
	}

	if current.DomainMentioned && previous.Sentiment != current.Sentiment {
		severity := models.SeverityInfo
		if current.Sentiment == models.SentimentNegative {
			severity = models.SeverityWarning
		}
		a := base(models.AlertSentimentShift, severity)
		a.Title = fmt.Sprintf("Sentiment shift on %s", current.Platform)
		a.Description = fmt.Sprintf("Sentiment moved from %s to %s.", previous.Sentiment, current.Sentiment)
		prevStr, currStr := string(previous.Sentiment), string(current.Sentiment)
		a.PreviousValue = &prevStr
		a.CurrentValue = &currStr
		alerts = append(alerts, a)
	}

	return alerts
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
