package feedback

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/vthunder/pulseloop/internal/logging"
	"github.com/vthunder/pulseloop/internal/ring"
)

func newScoresRing() *ring.Buffer[float64] {
	return ring.New[float64](recentScoresCap)
}

type persistedHistoryEntry struct {
	ActionKind       string    `json:"action_type"`
	FeedbackCount    int       `json:"feedback_count"`
	SuccessCount     int       `json:"success_count"`
	AverageScore     float64   `json:"average_score"`
	LastFeedbackTime time.Time `json:"last_feedback_time"`
}

type persistedAdjustment struct {
	ID              string    `json:"adjustment_id"`
	TargetBehavior  string    `json:"target_behavior"`
	AdjustmentType  string    `json:"adjustment_type"`
	AdjustmentValue float64   `json:"adjustment_value"`
	ExpectedOutcome string    `json:"expected_outcome"`
	Timestamp       time.Time `json:"timestamp"`
}

type persistedDocument struct {
	FeedbackHistory     map[string]persistedHistoryEntry `json:"feedback_history"`
	StrategyAdjustments []persistedAdjustment             `json:"strategy_adjustments"`
	Metrics             Metrics                           `json:"metrics"`
	SavedAt             time.Time                         `json:"saved_at"`
}

// SaveHistory writes the three-section document — per-action history,
// the last 100 strategy adjustments, and counters — to path. Grounded on
// _save_history.
func (p *Processor) SaveHistory(path string) error {
	p.mu.Lock()
	doc := persistedDocument{
		FeedbackHistory: make(map[string]persistedHistoryEntry, len(p.history)),
		Metrics:         p.metrics,
		SavedAt:         time.Now(),
	}
	for kind, h := range p.history {
		doc.FeedbackHistory[kind] = persistedHistoryEntry{
			ActionKind:       h.actionKind,
			FeedbackCount:    h.feedbackCount,
			SuccessCount:     h.successCount,
			AverageScore:     h.averageScore,
			LastFeedbackTime: h.lastFeedbackTime,
		}
	}
	adjustments := p.strategyAdjustments
	if len(adjustments) > 100 {
		adjustments = adjustments[len(adjustments)-100:]
	}
	for _, a := range adjustments {
		doc.StrategyAdjustments = append(doc.StrategyAdjustments, persistedAdjustment{
			ID:              a.ID,
			TargetBehavior:  a.TargetBehavior,
			AdjustmentType:  a.AdjustmentType,
			AdjustmentValue: a.AdjustmentValue,
			ExpectedOutcome: a.ExpectedOutcome,
			Timestamp:       a.Timestamp,
		})
	}
	p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadHistory reads a previously saved document, if present. Absence is
// not an error, matching _load_history's best-effort contract.
func (p *Processor) LoadHistory(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		logging.Debug("feedback", "load history failed: %v", err)
		return nil
	}

	var doc persistedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.Debug("feedback", "parse history failed: %v", err)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for kind, entry := range doc.FeedbackHistory {
		h := &feedbackHistory{
			actionKind:       entry.ActionKind,
			feedbackCount:    entry.FeedbackCount,
			successCount:     entry.SuccessCount,
			averageScore:     entry.AverageScore,
			lastFeedbackTime: entry.LastFeedbackTime,
			recentScores:     newScoresRing(),
		}
		p.history[kind] = h
	}
	logging.Info("feedback", "loaded history for %d action kinds from %s", len(doc.FeedbackHistory), path)
	return nil
}
