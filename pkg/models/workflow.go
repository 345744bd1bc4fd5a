// Package models defines the domain models shared by the validator, the
// catalog synchronizer and the pattern decision engine.
package models

import (
	"encoding/json"
	"sort"
)

// ServerAssignedFields lists the top-level workflow keys that only the
// automation platform may set. They must never be sent on create or full
// replacement.
var ServerAssignedFields = []string{
	"id",
	"createdAt",
	"updatedAt",
	"versionId",
	"isArchived",
	"triggerCount",
	"shared",
	"active",
	"meta",
}

// MainConnection is the connection type used for regular data flow.
const MainConnection = "main"

// WorkflowDocument is a workflow graph in the platform's native JSON shape.
// Nodes are addressed by Name everywhere in Connections, never by ID.
type WorkflowDocument struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Nodes       []Node         `json:"nodes"`
	Connections Connections    `json:"connections"`
	Settings    map[string]any `json:"settings,omitempty"`

	// ServerFields holds every server-assigned key present in the decoded
	// payload (including "id"), keyed by field name.
	ServerFields map[string]json.RawMessage `json:"-"`
}

// Node is a single step in a workflow.
type Node struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	TypeVersion float64        `json:"typeVersion"`
	Parameters  map[string]any `json:"parameters"`
	Position    [2]float64     `json:"position"`
	Disabled    bool           `json:"disabled,omitempty"`
	Credentials map[string]any `json:"credentials,omitempty"`
}

// Connections maps a source node name to its outputs by connection type.
// The outer slice index of each entry is the output index.
type Connections map[string]map[string][][]ConnectionTarget

// ConnectionTarget is one edge endpoint.
type ConnectionTarget struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// Edge is a flattened connection, convenient for iteration.
type Edge struct {
	Source      string
	ConnType    string
	OutputIndex int
	Target      ConnectionTarget
}

// Edges returns every connection in a stable order.
func (c Connections) Edges() []Edge {
	sources := make([]string, 0, len(c))
	for s := range c {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	var edges []Edge
	for _, src := range sources {
		byType := c[src]
		types := make([]string, 0, len(byType))
		for t := range byType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			for out, targets := range byType[t] {
				for _, tgt := range targets {
					edges = append(edges, Edge{Source: src, ConnType: t, OutputIndex: out, Target: tgt})
				}
			}
		}
	}
	return edges
}

// NodeByName returns the node with the given name.
func (w *WorkflowDocument) NodeByName(name string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].Name == name {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// UnmarshalJSON decodes the document and records which server-assigned
// fields the payload carried.
func (w *WorkflowDocument) UnmarshalJSON(data []byte) error {
	type plain WorkflowDocument
	var doc plain
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range ServerAssignedFields {
		if v, ok := raw[key]; ok {
			if doc.ServerFields == nil {
				doc.ServerFields = make(map[string]json.RawMessage)
			}
			doc.ServerFields[key] = v
		}
	}

	*w = WorkflowDocument(doc)
	return nil
}

// MarshalJSON encodes the document, re-emitting any captured server fields
// so round-tripping a fetched workflow is lossless.
func (w WorkflowDocument) MarshalJSON() ([]byte, error) {
	type plain WorkflowDocument
	base, err := json.Marshal(plain(w))
	if err != nil {
		return nil, err
	}
	if len(w.ServerFields) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range w.ServerFields {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// StripServerFields returns a copy with every server-assigned field removed,
// ready for submission to the platform.
func (w WorkflowDocument) StripServerFields() WorkflowDocument {
	out := w
	out.ID = ""
	out.ServerFields = nil
	return out
}
