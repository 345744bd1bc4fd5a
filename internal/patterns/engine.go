// Package patterns decides what the knowledge graph should learn from the
// accumulated evidence about a workflow pattern.
//
// Decisions are a pure function of their inputs: the same evidence, prior
// decision, conflict set and catalog always yield the same decision type,
// confidence and reasoning.
package patterns

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	sentinelerrors "flowsentinel/backend/pkg/errors"
	"flowsentinel/backend/pkg/models"

	"github.com/google/uuid"
)

// Thresholds are the gates a pattern must clear.
type Thresholds struct {
	MinObservations        int
	MinSuccessRate         float64
	MinEmbeddingConfidence float64
	// DemoteSuccessRate applies to the trailing window of a promoted pattern.
	DemoteSuccessRate  float64
	DemoteSatisfaction float64
	TrailingWindow     int
}

// DefaultThresholds returns the standard promotion policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinObservations:        3,
		MinSuccessRate:         0.80,
		MinEmbeddingConfidence: 0.85,
		DemoteSuccessRate:      0.70,
		DemoteSatisfaction:     3.0,
		TrailingWindow:         5,
	}
}

// minConfidenceGain is how much a promoted pattern's confidence must rise
// before its stored relationships are updated.
const minConfidenceGain = 0.01

// Catalog reports whether node types are offered by the platform.
type Catalog interface {
	Contains(nodeTypes ...string) bool
}

// CatalogFunc resolves the catalog at decision time.
type CatalogFunc func() Catalog

func (f CatalogFunc) Contains(nodeTypes ...string) bool {
	c := f()
	return c != nil && c.Contains(nodeTypes...)
}

// Engine evaluates pattern evidence against the thresholds.
type Engine struct {
	Thresholds Thresholds
	Catalog    Catalog
	Now        func() time.Time
}

// NewEngine creates an engine reading the given catalog.
func NewEngine(thresholds Thresholds, catalog Catalog) *Engine {
	return &Engine{Thresholds: thresholds, Catalog: catalog, Now: time.Now}
}

// Decide evaluates one pattern. prior is the latest earlier decision for
// the pattern, nil if there is none. conflicts lists other patterns whose
// relationships may contradict this one. Decide never fails; evidence that
// is insufficient or ambiguous yields a hold.
func (e *Engine) Decide(ev models.PatternEvidence, prior *models.PriorDecision, conflicts []models.ConflictingPattern) models.PatternDecision {
	t := e.Thresholds
	obs := ev.ObservationCount()
	rate := ev.SuccessRate()
	confidence := Confidence(ev)

	d := models.PatternDecision{
		ID:               uuid.NewString(),
		PatternID:        ev.PatternID,
		Type:             models.DecisionHold,
		Confidence:       confidence,
		Operations:       []models.GraphOp{},
		ObservationCount: obs,
		DecidedAt:        e.now(),
	}
	var reasons []string
	gate := func(ok bool, format string, args ...any) bool {
		verdict := "fail"
		if ok {
			verdict = "pass"
		}
		reasons = append(reasons, fmt.Sprintf(format, args...)+": "+verdict)
		return ok
	}

	if prior != nil && isPromoted(prior.Type) {
		trailing, window := e.trailingRate(ev)
		demote := !gate(trailing >= t.DemoteSuccessRate,
			"trailing success rate %.2f over last %d observations >= %.2f", trailing, window, t.DemoteSuccessRate)
		if hasFeedback(ev) {
			demote = !gate(ev.UserSatisfactionAvg >= t.DemoteSatisfaction,
				"user satisfaction %.2f >= %.2f", ev.UserSatisfactionAvg, t.DemoteSatisfaction) || demote
		}
		missing := e.missingTypes(ev.NodeTypes)
		demote = !gate(len(missing) == 0, "node types present in catalog%s", listSuffix(missing)) || demote

		switch {
		case demote:
			d.Type = models.DecisionDemote
			d.Operations = demoteOps(ev)
		case obs > prior.ObservationCount && confidence >= prior.Confidence+minConfidenceGain:
			reasons = append(reasons, fmt.Sprintf("confidence rose from %.4f to %.4f with %d new observations",
				prior.Confidence, confidence, obs-prior.ObservationCount))
			d.Type = models.DecisionUpdateRelationship
			d.Operations = updateOps(ev, confidence)
		default:
			reasons = append(reasons, "already promoted, no material change")
		}
		d.Reasoning = append(reasons, conclusion(d))
		return d
	}

	eligible := gate(obs >= t.MinObservations, "observations %d >= %d", obs, t.MinObservations)
	eligible = gate(rate >= t.MinSuccessRate, "success rate %.2f >= %.2f", rate, t.MinSuccessRate) && eligible
	eligible = gate(ev.EmbeddingConfidence >= t.MinEmbeddingConfidence,
		"embedding confidence %.2f >= %.2f", ev.EmbeddingConfidence, t.MinEmbeddingConfidence) && eligible
	if hasFeedback(ev) {
		eligible = gate(ev.UserSatisfactionAvg >= t.DemoteSatisfaction,
			"user satisfaction %.2f >= %.2f", ev.UserSatisfactionAvg, t.DemoteSatisfaction) && eligible
	} else {
		reasons = append(reasons, "no user feedback yet")
	}
	missing := e.missingTypes(ev.NodeTypes)
	eligible = gate(len(missing) == 0, "node types present in catalog%s", listSuffix(missing)) && eligible
	if prior != nil && prior.Type == models.DecisionDemote {
		// Re-promotion needs a recovered trailing rate and observations the
		// demotion did not see.
		trailing, window := e.trailingRate(ev)
		eligible = gate(trailing >= t.DemoteSuccessRate,
			"trailing success rate %.2f over last %d observations >= %.2f", trailing, window, t.DemoteSuccessRate) && eligible
		eligible = gate(obs > prior.ObservationCount,
			"observations %d > %d at demotion", obs, prior.ObservationCount) && eligible
	}

	contested, with := contradictions(ev, conflicts)
	noConflict := gate(len(contested) == 0, "no contradicting relationships%s", listSuffix(with))

	switch {
	case eligible && noConflict:
		d.Type = models.DecisionPromote
		d.Operations = promoteOps(ev, confidence)
	case eligible:
		d.Type = models.DecisionFlagConflict
		d.ConflictsWith = with
		d.Operations = []models.GraphOp{{
			ID:           uuid.NewString(),
			Kind:         models.OpRecordConflict,
			PatternID:    ev.PatternID,
			Status:       models.PatternConflict,
			ConflictWith: with,
			Reason:       "contradicting relationships: " + strings.Join(contested, "; "),
		}}
	}
	d.Reasoning = append(reasons, conclusion(d))
	return d
}

// ConflictFor describes the conflict behind a flag-conflict decision, nil
// for any other decision.
func ConflictFor(d models.PatternDecision, ev models.PatternEvidence, conflicts []models.ConflictingPattern) *sentinelerrors.ConflictError {
	if d.Type != models.DecisionFlagConflict {
		return nil
	}
	contested, with := contradictions(ev, conflicts)
	return &sentinelerrors.ConflictError{PatternID: d.PatternID, ConflictsWith: with, Relationships: contested}
}

// Confidence scores evidence in [0, 1]. Success rate dominates; semantic
// confidence and user satisfaction refine it, and thin evidence is scaled
// down slightly.
func Confidence(ev models.PatternEvidence) float64 {
	semantic := ev.EmbeddingConfidence
	if ev.SemanticStability > 0 {
		semantic = 0.7*ev.EmbeddingConfidence + 0.3*ev.SemanticStability
	}
	satisfaction := 0.75
	if ev.UserSatisfactionAvg > 0 {
		satisfaction = clamp((ev.UserSatisfactionAvg - 1) / 4)
	}
	base := 0.5*ev.SuccessRate() + 0.35*clamp(semantic) + 0.15*satisfaction
	scale := 0.9 + 0.1*math.Min(1, float64(ev.ObservationCount())/5)
	return math.Round(clamp(base*scale)*1e4) / 1e4
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// trailingRate is the success rate over the most recent outcomes. Without
// recorded outcomes it falls back to the overall rate.
func (e *Engine) trailingRate(ev models.PatternEvidence) (float64, int) {
	recent := ev.RecentOutcomes
	if len(recent) == 0 {
		return ev.SuccessRate(), ev.ObservationCount()
	}
	if w := e.Thresholds.TrailingWindow; w > 0 && len(recent) > w {
		recent = recent[len(recent)-w:]
	}
	ok := 0
	for _, r := range recent {
		if r {
			ok++
		}
	}
	return float64(ok) / float64(len(recent)), len(recent)
}

func (e *Engine) missingTypes(nodeTypes []string) []string {
	if len(nodeTypes) == 0 {
		return nil
	}
	if e.Catalog == nil {
		return []string{"(catalog unavailable)"}
	}
	var missing []string
	for _, t := range nodeTypes {
		if !e.Catalog.Contains(t) {
			missing = append(missing, t)
		}
	}
	return missing
}

// contradictions returns the contested relationships and the sorted ids of
// the patterns proposing the reverse direction.
func contradictions(ev models.PatternEvidence, conflicts []models.ConflictingPattern) ([]string, []string) {
	contested := map[string]bool{}
	with := map[string]bool{}
	for _, other := range conflicts {
		if other.PatternID == ev.PatternID {
			continue
		}
		for _, mine := range ev.Relationships {
			for _, theirs := range other.Relationships {
				if mine.Reverses(theirs) {
					contested[formatRelationship(mine)] = true
					with[other.PatternID] = true
				}
			}
		}
	}
	return sortedKeys(contested), sortedKeys(with)
}

func promoteOps(ev models.PatternEvidence, confidence float64) []models.GraphOp {
	ops := []models.GraphOp{{
		ID: uuid.NewString(), Kind: models.OpSetPatternStatus, PatternID: ev.PatternID,
		Status: models.PatternPromoted, Confidence: confidence, Reason: "promotion thresholds met",
	}}
	for _, r := range ev.Relationships {
		ops = append(ops, models.GraphOp{
			ID: uuid.NewString(), Kind: models.OpUpsertRelationship, PatternID: ev.PatternID,
			Relationship: &r, Confidence: confidence,
		})
	}
	return ops
}

func updateOps(ev models.PatternEvidence, confidence float64) []models.GraphOp {
	ops := make([]models.GraphOp, 0, len(ev.Relationships))
	for _, r := range ev.Relationships {
		ops = append(ops, models.GraphOp{
			ID: uuid.NewString(), Kind: models.OpUpdateConfidence, PatternID: ev.PatternID,
			Relationship: &r, Confidence: confidence, Reason: "corroborating evidence",
		})
	}
	return ops
}

func demoteOps(ev models.PatternEvidence) []models.GraphOp {
	ops := []models.GraphOp{{
		ID: uuid.NewString(), Kind: models.OpSetPatternStatus, PatternID: ev.PatternID,
		Status: models.PatternDemoted, Reason: "demotion threshold crossed",
	}}
	for _, r := range ev.Relationships {
		ops = append(ops, models.GraphOp{
			ID: uuid.NewString(), Kind: models.OpRetractRelationship, PatternID: ev.PatternID,
			Relationship: &r,
		})
	}
	return ops
}

func isPromoted(t models.DecisionType) bool {
	return t == models.DecisionPromote || t == models.DecisionUpdateRelationship
}

func hasFeedback(ev models.PatternEvidence) bool {
	return ev.UserSatisfactionAvg > 0 || ev.FeedbackCount > 0
}

func conclusion(d models.PatternDecision) string {
	return fmt.Sprintf("decision: %s (confidence %.4f)", d.Type, d.Confidence)
}

func formatRelationship(r models.Relationship) string {
	return fmt.Sprintf("%s -%s-> %s", r.From, r.Kind, r.To)
}

func listSuffix(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return " (" + strings.Join(items, ", ") + ")"
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
