package validation

import (
	"fmt"
	"slices"

	"flowsentinel/backend/pkg/models"
)

type layer struct {
	name LayerName
	// ops lists the operations that make this layer relevant in
	// ModeOperation. Nil means the layer always runs.
	ops   []OperationKind
	check func(r *run)
}

var layers = []layer{
	{name: LayerStructural, check: checkStructure},
	{name: LayerTypeExistence, ops: []OperationKind{OpAddNode, OpUpdateNode}, check: checkTypeExistence},
	{name: LayerTypeVersion, ops: []OperationKind{OpAddNode, OpUpdateNode}, check: checkTypeVersions},
	{name: LayerProperties, ops: []OperationKind{OpAddNode, OpUpdateNode}, check: checkProperties},
	{name: LayerConnections, ops: []OperationKind{OpAddNode, OpRemoveNode, OpAddConnection, OpRemoveConnection}, check: checkConnections},
	{name: LayerExpressions, ops: []OperationKind{OpAddNode, OpUpdateNode, OpRemoveNode}, check: checkExpressions},
	{name: LayerPlatformContract, ops: []OperationKind{OpUpdateSettings, OpUpdateName}, check: checkContract},
}

// run carries per-call state shared by the layers.
type run struct {
	doc    *models.WorkflowDocument
	cat    Catalog
	opts   Options
	policy policy

	byName map[string]*models.Node
	byID   map[string]*models.Node
	// descriptors holds the catalog entry for each node whose type resolved.
	descriptors map[string]*models.NodeTypeDescriptor
	// focus restricts node-level layers to these node names; nil means all.
	focus map[string]bool

	layer    LayerName
	errors   []Issue
	warnings []Issue
	fatal    bool
	stats    Statistics
}

// Validate runs the layers in order against doc and cat. It has no side
// effects and returns the same verdict for the same inputs.
func Validate(doc *models.WorkflowDocument, cat Catalog, opts Options) Verdict {
	opts, err := opts.Normalize()
	if err != nil {
		opts = DefaultOptions()
	}

	r := &run{
		doc:         doc,
		cat:         cat,
		opts:        opts,
		policy:      policyFor(opts.Profile),
		byName:      make(map[string]*models.Node),
		byID:        make(map[string]*models.Node),
		descriptors: make(map[string]*models.NodeTypeDescriptor),
	}
	if doc == nil {
		doc = &models.WorkflowDocument{}
		r.doc = doc
	}
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.Name != "" {
			if _, dup := r.byName[n.Name]; !dup {
				r.byName[n.Name] = n
			}
		}
		if n.ID != "" {
			if _, dup := r.byID[n.ID]; !dup {
				r.byID[n.ID] = n
			}
		}
	}
	if opts.Mode == ModeOperation && len(opts.Scope.Nodes) > 0 && !slices.Contains(opts.Scope.Operations, OpRemoveNode) {
		r.focus = make(map[string]bool, len(opts.Scope.Nodes))
		for _, name := range opts.Scope.Nodes {
			r.focus[name] = true
		}
	}
	r.stats = collectStatistics(doc)

	verdict := Verdict{
		Errors:       []Issue{},
		Warnings:     []Issue{},
		Suggestions:  []string{},
		PassedLayers: []LayerName{},
	}
	if cat != nil {
		verdict.CatalogVersion = cat.Version()
	}
	if err != nil {
		// No layer runs under options the caller did not ask for.
		verdict.Errors = append(verdict.Errors, Issue{
			Kind:       StructuralError,
			Layer:      LayerStructural,
			Field:      "options",
			Message:    err.Error(),
			Suggestion: "use a known mode and profile, and give an operation scope in operation mode",
		})
		verdict.FailedLayer = LayerStructural
		verdict.Statistics = r.stats
		verdict.Suggestions = collectSuggestions(verdict.Errors)
		return verdict
	}

	for _, l := range layers {
		if !r.relevant(l) {
			continue
		}
		r.layer = l.name
		before := len(r.errors)
		l.check(r)
		if len(r.errors) > before {
			if verdict.FailedLayer == "" {
				verdict.FailedLayer = l.name
			}
		} else {
			verdict.PassedLayers = append(verdict.PassedLayers, l.name)
		}
		if r.fatal {
			break
		}
	}

	verdict.Errors = append(verdict.Errors, r.errors...)
	verdict.Warnings = append(verdict.Warnings, r.warnings...)
	verdict.Valid = len(verdict.Errors) == 0
	verdict.Statistics = r.stats
	verdict.Suggestions = collectSuggestions(verdict.Errors, verdict.Warnings)
	return verdict
}

func (r *run) relevant(l layer) bool {
	if r.opts.Mode == ModeFull || l.ops == nil {
		return true
	}
	for _, op := range r.opts.Scope.Operations {
		if slices.Contains(l.ops, op) {
			return true
		}
	}
	return false
}

// inFocus reports whether node-level checks apply to the named node.
func (r *run) inFocus(name string) bool {
	return r.focus == nil || r.focus[name]
}

func (r *run) fail(issue Issue) {
	issue.Layer = r.layer
	r.errors = append(r.errors, issue)
}

// failFatal records an error that stops all subsequent layers.
func (r *run) failFatal(issue Issue) {
	r.fail(issue)
	r.fatal = true
}

func (r *run) warn(issue Issue) {
	issue.Layer = r.layer
	r.warnings = append(r.warnings, issue)
}

// report records issue at the given severity.
func (r *run) report(sev severity, issue Issue) {
	switch sev {
	case sevError:
		r.fail(issue)
	case sevWarning:
		r.warn(issue)
	}
}

func collectStatistics(doc *models.WorkflowDocument) Statistics {
	stats := Statistics{NodeCount: len(doc.Nodes)}
	stats.ConnectionCount = len(doc.Connections.Edges())
	for _, n := range doc.Nodes {
		if isTriggerType(n.Type, nil) {
			stats.TriggerNodes++
		}
		walkStrings(n.Parameters, "", func(_ string, v string) {
			if isExpression(v) {
				stats.ExpressionsChecked++
			}
		})
	}
	return stats
}

func collectSuggestions(groups ...[]Issue) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, issues := range groups {
		for _, is := range issues {
			if is.Suggestion == "" {
				continue
			}
			s := is.Suggestion
			if is.Node != "" {
				s = fmt.Sprintf("%s: %s", is.Node, is.Suggestion)
			}
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
