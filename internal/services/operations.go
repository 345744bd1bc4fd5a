package services

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"

	"github.com/google/uuid"
)

// PartialOperation is one edit in a partial workflow update. Which fields
// are read depends on Type.
type PartialOperation struct {
	Type validation.OperationKind `json:"type"`

	// addNode
	Node *models.Node `json:"node,omitempty"`

	// removeNode, updateNode
	NodeName string `json:"nodeName,omitempty"`
	// Updates maps a node field to its new value. Keys are name, type,
	// typeVersion, disabled, credentials, parameters or a dotted path under
	// parameters such as "parameters.options.timeout".
	Updates map[string]any `json:"updates,omitempty"`

	// addConnection, removeConnection
	Source         string `json:"source,omitempty"`
	Target         string `json:"target,omitempty"`
	SourceOutput   int    `json:"sourceOutput,omitempty"`
	TargetInput    int    `json:"targetInput,omitempty"`
	ConnectionType string `json:"connectionType,omitempty"`

	// updateSettings; a nil value removes the setting.
	Settings map[string]any `json:"settings,omitempty"`

	// updateName
	Name string `json:"name,omitempty"`
}

// OperationError reports an operation that cannot be applied to the
// current workflow.
type OperationError struct {
	Index int
	Type  validation.OperationKind
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// applyOperations edits doc in place and returns the validation scope
// covering what was touched.
func applyOperations(doc *models.WorkflowDocument, ops []PartialOperation) (validation.Scope, error) {
	if len(ops) == 0 {
		return validation.Scope{}, fmt.Errorf("no operations given")
	}
	touched := map[string]bool{}
	var kinds []validation.OperationKind

	for i, op := range ops {
		nodes, err := applyOperation(doc, op)
		if err != nil {
			return validation.Scope{}, &OperationError{Index: i, Type: op.Type, Err: err}
		}
		for _, n := range nodes {
			touched[n] = true
		}
		if !slices.Contains(kinds, op.Type) {
			kinds = append(kinds, op.Type)
		}
	}

	scope := validation.Scope{Operations: kinds}
	for n := range touched {
		if _, ok := doc.NodeByName(n); ok {
			scope.Nodes = append(scope.Nodes, n)
		}
	}
	sort.Strings(scope.Nodes)
	return scope, nil
}

// applyOperation returns the names of the nodes the operation touched.
func applyOperation(doc *models.WorkflowDocument, op PartialOperation) ([]string, error) {
	switch op.Type {
	case validation.OpAddNode:
		return addNode(doc, op.Node)
	case validation.OpRemoveNode:
		return removeNode(doc, op.NodeName)
	case validation.OpUpdateNode:
		return updateNode(doc, op.NodeName, op.Updates)
	case validation.OpAddConnection:
		return addConnection(doc, op)
	case validation.OpRemoveConnection:
		return removeConnection(doc, op)
	case validation.OpUpdateSettings:
		if doc.Settings == nil {
			doc.Settings = map[string]any{}
		}
		for k, v := range op.Settings {
			if v == nil {
				delete(doc.Settings, k)
				continue
			}
			doc.Settings[k] = v
		}
		return nil, nil
	case validation.OpUpdateName:
		if strings.TrimSpace(op.Name) == "" {
			return nil, fmt.Errorf("name must not be empty")
		}
		doc.Name = op.Name
		return nil, nil
	}
	return nil, fmt.Errorf("unknown operation type %q", op.Type)
}

func addNode(doc *models.WorkflowDocument, node *models.Node) ([]string, error) {
	if node == nil || node.Name == "" {
		return nil, fmt.Errorf("addNode requires a node with a name")
	}
	if _, exists := doc.NodeByName(node.Name); exists {
		return nil, fmt.Errorf("node %q already exists", node.Name)
	}
	n := *node
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Parameters == nil {
		n.Parameters = map[string]any{}
	}
	doc.Nodes = append(doc.Nodes, n)
	return []string{n.Name}, nil
}

func removeNode(doc *models.WorkflowDocument, name string) ([]string, error) {
	idx := nodeIndex(doc, name)
	if idx < 0 {
		return nil, fmt.Errorf("node %q not found", name)
	}
	name = doc.Nodes[idx].Name
	doc.Nodes = slices.Delete(doc.Nodes, idx, idx+1)

	var neighbours []string
	delete(doc.Connections, name)
	for src, byType := range doc.Connections {
		for t, outputs := range byType {
			for i, targets := range outputs {
				kept := targets[:0]
				for _, tgt := range targets {
					if tgt.Node == name {
						neighbours = append(neighbours, src)
						continue
					}
					kept = append(kept, tgt)
				}
				outputs[i] = kept
			}
			byType[t] = outputs
		}
	}
	return neighbours, nil
}

func updateNode(doc *models.WorkflowDocument, name string, updates map[string]any) ([]string, error) {
	idx := nodeIndex(doc, name)
	if idx < 0 {
		return nil, fmt.Errorf("node %q not found", name)
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("updateNode requires updates")
	}
	n := &doc.Nodes[idx]

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		v := updates[key]
		switch {
		case key == "name":
			newName, ok := v.(string)
			if !ok || newName == "" {
				return nil, fmt.Errorf("name must be a non-empty string")
			}
			if newName != n.Name {
				if _, exists := doc.NodeByName(newName); exists {
					return nil, fmt.Errorf("node %q already exists", newName)
				}
				renameNode(doc, n.Name, newName)
				n.Name = newName
			}
		case key == "type":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("type must be a string")
			}
			n.Type = s
		case key == "typeVersion":
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("typeVersion must be a number")
			}
			n.TypeVersion = f
		case key == "disabled":
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("disabled must be a boolean")
			}
			n.Disabled = b
		case key == "credentials":
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("credentials must be an object")
			}
			n.Credentials = m
		case key == "parameters":
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("parameters must be an object")
			}
			n.Parameters = m
		case strings.HasPrefix(key, "parameters."):
			if n.Parameters == nil {
				n.Parameters = map[string]any{}
			}
			if err := setPath(n.Parameters, strings.Split(strings.TrimPrefix(key, "parameters."), "."), v); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
		default:
			return nil, fmt.Errorf("unsupported update key %q", key)
		}
	}
	return []string{n.Name}, nil
}

// setPath sets a nested value, creating intermediate objects. A nil value
// removes the leaf.
func setPath(m map[string]any, path []string, v any) error {
	for i, p := range path {
		if p == "" {
			return fmt.Errorf("empty path segment")
		}
		if i == len(path)-1 {
			if v == nil {
				delete(m, p)
			} else {
				m[p] = v
			}
			return nil
		}
		next, ok := m[p].(map[string]any)
		if !ok {
			if m[p] != nil {
				return fmt.Errorf("%s is not an object", p)
			}
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	return nil
}

func renameNode(doc *models.WorkflowDocument, from, to string) {
	if out, ok := doc.Connections[from]; ok {
		delete(doc.Connections, from)
		doc.Connections[to] = out
	}
	for _, byType := range doc.Connections {
		for _, outputs := range byType {
			for _, targets := range outputs {
				for i := range targets {
					if targets[i].Node == from {
						targets[i].Node = to
					}
				}
			}
		}
	}
}

func addConnection(doc *models.WorkflowDocument, op PartialOperation) ([]string, error) {
	if _, ok := doc.NodeByName(op.Source); !ok {
		return nil, fmt.Errorf("source node %q not found", op.Source)
	}
	if _, ok := doc.NodeByName(op.Target); !ok {
		return nil, fmt.Errorf("target node %q not found", op.Target)
	}
	if op.SourceOutput < 0 || op.TargetInput < 0 {
		return nil, fmt.Errorf("connection indexes must not be negative")
	}
	connType := op.ConnectionType
	if connType == "" {
		connType = models.MainConnection
	}

	if doc.Connections == nil {
		doc.Connections = models.Connections{}
	}
	byType := doc.Connections[op.Source]
	if byType == nil {
		byType = map[string][][]models.ConnectionTarget{}
		doc.Connections[op.Source] = byType
	}
	outputs := byType[connType]
	for len(outputs) <= op.SourceOutput {
		outputs = append(outputs, []models.ConnectionTarget{})
	}
	target := models.ConnectionTarget{Node: op.Target, Type: connType, Index: op.TargetInput}
	if slices.Contains(outputs[op.SourceOutput], target) {
		return nil, fmt.Errorf("connection %s -> %s already exists", op.Source, op.Target)
	}
	outputs[op.SourceOutput] = append(outputs[op.SourceOutput], target)
	byType[connType] = outputs
	return []string{op.Source, op.Target}, nil
}

func removeConnection(doc *models.WorkflowDocument, op PartialOperation) ([]string, error) {
	connType := op.ConnectionType
	if connType == "" {
		connType = models.MainConnection
	}
	outputs := doc.Connections[op.Source][connType]
	if op.SourceOutput < 0 || op.SourceOutput >= len(outputs) {
		return nil, fmt.Errorf("connection %s -> %s not found", op.Source, op.Target)
	}
	targets := outputs[op.SourceOutput]
	idx := slices.IndexFunc(targets, func(t models.ConnectionTarget) bool {
		return t.Node == op.Target && t.Index == op.TargetInput
	})
	if idx < 0 {
		return nil, fmt.Errorf("connection %s -> %s not found", op.Source, op.Target)
	}
	outputs[op.SourceOutput] = slices.Delete(targets, idx, idx+1)
	return []string{op.Source, op.Target}, nil
}

// nodeIndex finds a node by name, falling back to its id.
func nodeIndex(doc *models.WorkflowDocument, ref string) int {
	for i := range doc.Nodes {
		if doc.Nodes[i].Name == ref {
			return i
		}
	}
	for i := range doc.Nodes {
		if ref != "" && doc.Nodes[i].ID == ref {
			return i
		}
	}
	return -1
}
