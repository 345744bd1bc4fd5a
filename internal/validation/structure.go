package validation

import (
	"fmt"
	"strings"

	"flowsentinel/backend/pkg/models"
)

// checkStructure verifies document shape. Every error here is fatal.
func checkStructure(r *run) {
	doc := r.doc
	if len(doc.Nodes) == 0 {
		r.failFatal(Issue{
			Kind:       StructuralError,
			Message:    "workflow has no nodes",
			Suggestion: "add at least one trigger node",
		})
		return
	}

	names := make(map[string]int)
	ids := make(map[string]int)
	for i, n := range doc.Nodes {
		label := n.Name
		if label == "" {
			label = fmt.Sprintf("nodes[%d]", i)
		}
		if strings.TrimSpace(n.Name) == "" {
			r.failFatal(Issue{Kind: StructuralError, NodeID: n.ID, Field: fmt.Sprintf("nodes[%d].name", i),
				Message: "node has no name", Suggestion: "give every node a unique name"})
		}
		if strings.TrimSpace(n.Type) == "" {
			r.failFatal(Issue{Kind: StructuralError, Node: n.Name, NodeID: n.ID, Field: "type",
				Message: fmt.Sprintf("node %s has no type", label)})
		}
		if n.Name != "" {
			names[n.Name]++
			if names[n.Name] == 2 {
				r.failFatal(Issue{Kind: StructuralError, Node: n.Name, Field: "name",
					Message:    fmt.Sprintf("duplicate node name %q", n.Name),
					Suggestion: "node names address connections and must be unique; rename one of them"})
			}
		}
		if n.ID != "" {
			ids[n.ID]++
			if ids[n.ID] == 2 {
				r.failFatal(Issue{Kind: StructuralError, Node: n.Name, NodeID: n.ID, Field: "id",
					Message: fmt.Sprintf("duplicate node id %q", n.ID)})
			}
		}
	}

	for _, e := range doc.Connections.Edges() {
		r.checkEndpoint(e.Source, e, "source")
		r.checkEndpoint(e.Target.Node, e, "target")
	}
	// Sources with no outputs still need to exist.
	for src, outputs := range doc.Connections {
		if len(outputs) == 0 {
			r.checkEndpoint(src, models.Edge{Source: src}, "source")
		}
	}
}

// checkEndpoint flags a connection endpoint that resolves to no node. An
// endpoint that matches a node id is left to the connection layer, which
// produces the specific name-not-id correction.
func (r *run) checkEndpoint(ref string, e models.Edge, role string) {
	if _, ok := r.byName[ref]; ok {
		return
	}
	if _, ok := r.byID[ref]; ok {
		return
	}
	issue := Issue{
		Kind:    ConnectionIntegrityError,
		Node:    e.Source,
		Field:   connectionField(e),
		Message: fmt.Sprintf("connection %s %q does not match any node", role, ref),
	}
	if role == "source" {
		issue.Node = ""
		issue.Field = fmt.Sprintf("connections.%s", ref)
	}
	if near := closest(ref, r.nodeNames(), 3); near != "" {
		issue.Suggestion = fmt.Sprintf("did you mean node %q?", near)
	}
	r.failFatal(issue)
}

func (r *run) nodeNames() []string {
	names := make([]string, 0, len(r.doc.Nodes))
	for _, n := range r.doc.Nodes {
		if n.Name != "" {
			names = append(names, n.Name)
		}
	}
	return names
}

func connectionField(e models.Edge) string {
	return fmt.Sprintf("connections.%s.%s[%d]", e.Source, e.ConnType, e.OutputIndex)
}
