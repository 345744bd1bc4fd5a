package models

import "time"

// DecisionType is the outcome of one pattern evaluation.
type DecisionType string

const (
	DecisionPromote            DecisionType = "promote"
	DecisionDemote             DecisionType = "demote"
	DecisionUpdateRelationship DecisionType = "update-relationship"
	DecisionFlagConflict       DecisionType = "flag-conflict"
	DecisionHold               DecisionType = "hold"
)

// PatternStatus is the knowledge-base status of a pattern.
type PatternStatus string

const (
	PatternCandidate PatternStatus = "candidate"
	PatternPromoted  PatternStatus = "promoted"
	PatternDemoted   PatternStatus = "demoted"
	PatternConflict  PatternStatus = "conflict"
)

// Relationship is a directed relation between two node types.
type Relationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// Reverses reports whether o is the opposite direction of r over the same
// node-type pair and relation kind.
func (r Relationship) Reverses(o Relationship) bool {
	return r.Kind == o.Kind && r.From == o.To && r.To == o.From && r.From != r.To
}

// PatternEvidence accumulates outcome statistics for one pattern. Counts
// only ever grow.
type PatternEvidence struct {
	PatternID           string         `json:"patternId"`
	Archetype           string         `json:"archetype"`
	NodeTypes           []string       `json:"nodeTypes"`
	Relationships       []Relationship `json:"relationships"`
	SuccessCount        int            `json:"successCount"`
	FailureCount        int            `json:"failureCount"`
	RecentOutcomes      []bool         `json:"recentOutcomes,omitempty"`
	EmbeddingConfidence float64        `json:"embeddingConfidence"`
	SemanticStability   float64        `json:"semanticStability"`
	UserSatisfactionAvg float64        `json:"userSatisfactionAvg"`
	FeedbackCount       int            `json:"feedbackCount,omitempty"`
	UpdatedAt           time.Time      `json:"updatedAt,omitempty"`
}

// ObservationCount is the total number of recorded executions.
func (e PatternEvidence) ObservationCount() int {
	return e.SuccessCount + e.FailureCount
}

// SuccessRate returns successes over observations, or 0 without data.
func (e PatternEvidence) SuccessRate() float64 {
	n := e.ObservationCount()
	if n == 0 {
		return 0
	}
	return float64(e.SuccessCount) / float64(n)
}

// GraphOpKind enumerates knowledge-graph mutations.
type GraphOpKind string

const (
	OpSetPatternStatus    GraphOpKind = "set_pattern_status"
	OpUpsertRelationship  GraphOpKind = "upsert_relationship"
	OpUpdateConfidence    GraphOpKind = "update_relationship_confidence"
	OpRetractRelationship GraphOpKind = "retract_relationship"
	OpRecordConflict      GraphOpKind = "record_conflict"
)

// GraphOp is one knowledge-graph update emitted by a decision.
type GraphOp struct {
	ID           string        `json:"id"`
	Kind         GraphOpKind   `json:"kind"`
	PatternID    string        `json:"patternId"`
	Relationship *Relationship `json:"relationship,omitempty"`
	Status       PatternStatus `json:"status,omitempty"`
	Confidence   float64       `json:"confidence,omitempty"`
	ConflictWith []string      `json:"conflictWith,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// PatternDecision is the auditable result of evaluating a pattern.
type PatternDecision struct {
	ID               string       `json:"id"`
	PatternID        string       `json:"patternId"`
	Type             DecisionType `json:"type"`
	Confidence       float64      `json:"confidence"`
	Operations       []GraphOp    `json:"operations"`
	Reasoning        []string     `json:"reasoning"`
	ObservationCount int          `json:"observationCount"`
	ConflictsWith    []string     `json:"conflictsWith,omitempty"`
	DecidedAt        time.Time    `json:"decidedAt"`
}

// PriorDecision is the persisted summary of an earlier decision.
type PriorDecision struct {
	PatternID        string       `json:"patternId"`
	Type             DecisionType `json:"type"`
	Confidence       float64      `json:"confidence"`
	ObservationCount int          `json:"observationCount"`
	DecidedAt        time.Time    `json:"decidedAt"`
}

// ConflictingPattern is another pattern whose relationships may contradict
// the one under evaluation.
type ConflictingPattern struct {
	PatternID     string         `json:"patternId"`
	Relationships []Relationship `json:"relationships"`
}
