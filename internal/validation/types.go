// Package validation runs ordered validation layers over a workflow
// document against the current node-type catalog and produces a verdict
// that gates every workflow mutation.
package validation

import (
	"fmt"

	"flowsentinel/backend/pkg/models"
)

// Mode selects which layers run.
type Mode string

const (
	// ModeFull runs every layer against every node.
	ModeFull Mode = "full"
	// ModeOperation runs only layers relevant to the scoped operations.
	ModeOperation Mode = "operation"
)

// Profile controls severity thresholds.
type Profile string

const (
	ProfileMinimal    Profile = "minimal"
	ProfileRuntime    Profile = "runtime"
	ProfileAIFriendly Profile = "ai-friendly"
	ProfileStrict     Profile = "strict"
)

// Intent states what the caller is about to do with the document.
type Intent string

const (
	// IntentCheck validates without a pending submission.
	IntentCheck Intent = "check"
	// IntentCreate precedes creating a new workflow.
	IntentCreate Intent = "create"
	// IntentReplace precedes a full replacement of an existing workflow.
	IntentReplace Intent = "replace"
)

// LayerName identifies a validation layer.
type LayerName string

const (
	LayerStructural       LayerName = "structural"
	LayerTypeExistence    LayerName = "type-existence"
	LayerTypeVersion      LayerName = "type-version"
	LayerProperties       LayerName = "properties"
	LayerConnections      LayerName = "connections"
	LayerExpressions      LayerName = "expressions"
	LayerPlatformContract LayerName = "platform-contract"
)

// ErrorKind classifies an issue.
type ErrorKind string

const (
	StructuralError          ErrorKind = "StructuralError"
	SchemaError              ErrorKind = "SchemaError"
	VersionMismatchError     ErrorKind = "VersionMismatchError"
	ConnectionIntegrityError ErrorKind = "ConnectionIntegrityError"
)

// OperationKind names a partial-update operation used to scope ModeOperation.
type OperationKind string

const (
	OpAddNode          OperationKind = "addNode"
	OpRemoveNode       OperationKind = "removeNode"
	OpUpdateNode       OperationKind = "updateNode"
	OpAddConnection    OperationKind = "addConnection"
	OpRemoveConnection OperationKind = "removeConnection"
	OpUpdateSettings   OperationKind = "updateSettings"
	OpUpdateName       OperationKind = "updateName"
)

// Scope narrows ModeOperation to the operations performed and the nodes
// they touched.
type Scope struct {
	Operations []OperationKind `json:"operations,omitempty"`
	Nodes      []string        `json:"nodes,omitempty"`
}

// Options configures one validation call.
type Options struct {
	Mode    Mode    `json:"mode"`
	Profile Profile `json:"profile"`
	Intent  Intent  `json:"intent"`
	Scope   Scope   `json:"scope,omitempty"`
}

// DefaultOptions validates everything with the ai-friendly profile.
func DefaultOptions() Options {
	return Options{Mode: ModeFull, Profile: ProfileAIFriendly, Intent: IntentCheck}
}

// Normalize fills empty fields with defaults and rejects unknown values.
func (o Options) Normalize() (Options, error) {
	if o.Mode == "" {
		o.Mode = ModeFull
	}
	if o.Profile == "" {
		o.Profile = ProfileAIFriendly
	}
	if o.Intent == "" {
		o.Intent = IntentCheck
	}
	switch o.Mode {
	case ModeFull, ModeOperation:
	default:
		return o, fmt.Errorf("unknown validation mode %q", o.Mode)
	}
	switch o.Profile {
	case ProfileMinimal, ProfileRuntime, ProfileAIFriendly, ProfileStrict:
	default:
		return o, fmt.Errorf("unknown validation profile %q", o.Profile)
	}
	switch o.Intent {
	case IntentCheck, IntentCreate, IntentReplace:
	default:
		return o, fmt.Errorf("unknown validation intent %q", o.Intent)
	}
	if o.Mode == ModeOperation && len(o.Scope.Operations) == 0 {
		return o, fmt.Errorf("operation mode requires at least one scoped operation")
	}
	return o, nil
}

// Issue is one validation finding. Node and Field identify the offending
// node or connection.
type Issue struct {
	Kind       ErrorKind `json:"kind"`
	Layer      LayerName `json:"layer"`
	Node       string    `json:"node,omitempty"`
	NodeID     string    `json:"nodeId,omitempty"`
	Field      string    `json:"field,omitempty"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
}

func (i Issue) String() string {
	s := fmt.Sprintf("[%s] %s", i.Kind, i.Message)
	if i.Node != "" {
		s = fmt.Sprintf("[%s] node %q: %s", i.Kind, i.Node, i.Message)
	}
	if i.Suggestion != "" {
		s += " (" + i.Suggestion + ")"
	}
	return s
}

// Statistics summarises what was inspected.
type Statistics struct {
	NodeCount          int `json:"nodeCount"`
	ConnectionCount    int `json:"connectionCount"`
	ExpressionsChecked int `json:"expressionsChecked"`
	RuntimeExpressions int `json:"runtimeExpressions"`
	TriggerNodes       int `json:"triggerNodes"`
}

// Verdict is the immutable result of a validation call.
type Verdict struct {
	Valid          bool        `json:"valid"`
	Errors         []Issue     `json:"errors"`
	Warnings       []Issue     `json:"warnings"`
	Suggestions    []string    `json:"suggestions"`
	PassedLayers   []LayerName `json:"passedLayers"`
	FailedLayer    LayerName   `json:"failedLayer,omitempty"`
	Statistics     Statistics  `json:"statistics"`
	CatalogVersion string      `json:"catalogVersion,omitempty"`
	// Fingerprint is set by the validation cache; Validate leaves it empty.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Catalog is the read-only node-type view the pipeline validates against.
type Catalog interface {
	NodeType(nodeType string) (*models.NodeTypeDescriptor, bool)
	TypeNames() []string
	Diff() models.CatalogDiff
	Version() string
}
