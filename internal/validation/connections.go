package validation

import (
	"fmt"
	"strings"

	"flowsentinel/backend/pkg/models"
)

// checkConnections catches connections addressed by node id instead of
// name, invalid indexes, and unreachable nodes.
func checkConnections(r *run) {
	incoming := make(map[string]int)
	outgoing := make(map[string]int)

	for _, e := range r.doc.Connections.Edges() {
		src := r.resolveRef(e.Source, e, "source")
		tgt := r.resolveRef(e.Target.Node, e, "target")

		if e.Target.Index < 0 {
			r.fail(Issue{
				Kind: ConnectionIntegrityError, Node: e.Source, Field: connectionField(e),
				Message: fmt.Sprintf("connection to %q has negative input index %d", e.Target.Node, e.Target.Index),
			})
		}
		if e.ConnType != models.MainConnection && !strings.HasPrefix(e.ConnType, "ai_") {
			r.warn(Issue{
				Kind: ConnectionIntegrityError, Node: e.Source, Field: connectionField(e),
				Message:    fmt.Sprintf("unrecognised connection type %q", e.ConnType),
				Suggestion: fmt.Sprintf("use %q for regular data flow", models.MainConnection),
			})
		}
		if e.Target.Type != "" && e.Target.Type != e.ConnType {
			r.warn(Issue{
				Kind: ConnectionIntegrityError, Node: e.Source, Field: connectionField(e),
				Message: fmt.Sprintf("connection type %q does not match target input type %q", e.ConnType, e.Target.Type),
			})
		}

		if src != nil {
			outgoing[src.Name]++
			if src.Disabled {
				r.report(r.policy.disabledEndpoint, Issue{
					Kind: ConnectionIntegrityError, Node: src.Name, Field: connectionField(e),
					Message: "connection starts at a disabled node; downstream nodes will not run",
				})
			}
		}
		if tgt != nil {
			incoming[tgt.Name]++
		}
	}

	if len(r.doc.Nodes) < 2 {
		return
	}
	triggers := 0
	for i := range r.doc.Nodes {
		n := &r.doc.Nodes[i]
		trigger := isTriggerType(n.Type, r.descriptors[n.Name])
		if trigger {
			triggers++
		}
		if n.Disabled || !r.inFocus(n.Name) {
			continue
		}
		if !trigger && incoming[n.Name] == 0 && outgoing[n.Name] == 0 {
			r.report(r.policy.orphanNode, Issue{
				Kind: ConnectionIntegrityError, Node: n.Name, NodeID: n.ID,
				Message:    "node is not connected to any other node",
				Suggestion: "connect it or remove it",
			})
		}
	}
	if triggers == 0 {
		r.report(r.policy.missingTrigger, Issue{
			Kind:       ConnectionIntegrityError,
			Message:    "workflow has no trigger node and can only run manually",
			Suggestion: "add a trigger or webhook node",
		})
	}
}

// resolveRef returns the node named ref. A ref that is actually a node id
// is reported with the specific correction and resolved to that node.
func (r *run) resolveRef(ref string, e models.Edge, role string) *models.Node {
	if n, ok := r.byName[ref]; ok {
		return n
	}
	n, ok := r.byID[ref]
	if !ok {
		return nil
	}
	field := connectionField(e)
	if role == "source" {
		field = "connections." + ref
	}
	r.fail(Issue{
		Kind:       ConnectionIntegrityError,
		Node:       n.Name,
		NodeID:     n.ID,
		Field:      field,
		Message:    fmt.Sprintf("connection %s references node id %q instead of its name", role, ref),
		Suggestion: fmt.Sprintf("use node name %q, not id %q", n.Name, ref),
	})
	return n
}
