package validation

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"flowsentinel/backend/pkg/models"
)

// operationKey and resourceKey are the parameters that select which part of
// a node's property schema applies.
const (
	operationKey = "operation"
	resourceKey  = "resource"
)

func checkProperties(r *run) {
	for i := range r.doc.Nodes {
		n := &r.doc.Nodes[i]
		d, ok := r.descriptors[n.Name]
		if !ok || !r.inFocus(n.Name) || n.Disabled {
			continue
		}
		r.checkNodeParameters(n, d)
		r.checkCredentials(n, d)
	}
}

func (r *run) checkNodeParameters(n *models.Node, d *models.NodeTypeDescriptor) {
	op := declaredOperation(n, d)
	if op != "" && len(d.Operations) > 0 && !slices.Contains(d.Operations, op) {
		issue := Issue{
			Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: "parameters.operation",
			Message: fmt.Sprintf("operation %q is not supported by %s", op, d.Type),
		}
		if near := closest(op, d.Operations, 3); near != "" {
			issue.Suggestion = fmt.Sprintf("did you mean operation %q?", near)
		} else {
			issue.Suggestion = fmt.Sprintf("supported operations: %s", strings.Join(d.Operations, ", "))
		}
		r.fail(issue)
		return
	}

	for _, p := range d.Properties {
		if p.Type == models.PropertyNotice || !p.AppliesTo(op) {
			continue
		}
		field := "parameters." + p.Name
		v, present := n.Parameters[p.Name]
		if !present {
			switch {
			case p.Required && !p.HasDefault():
				r.fail(Issue{
					Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: field,
					Message:    fmt.Sprintf("required parameter %q is missing", p.Name),
					Suggestion: fmt.Sprintf("set parameters.%s (%s)", p.Name, describeType(p)),
				})
			case !p.Required && !p.HasDefault():
				r.report(r.policy.missingOptional, Issue{
					Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: field,
					Message:    fmt.Sprintf("optional parameter %q has no value and no default", p.Name),
					Suggestion: fmt.Sprintf("set parameters.%s explicitly if the node relies on it", p.Name),
				})
			}
			continue
		}

		if p.Required {
			if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
				r.fail(Issue{
					Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: field,
					Message: fmt.Sprintf("required parameter %q is empty", p.Name),
				})
				continue
			}
		}
		if msg, hint := typeMismatch(p, v); msg != "" {
			r.fail(Issue{
				Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: field,
				Message: fmt.Sprintf("parameter %q %s", p.Name, msg), Suggestion: hint,
			})
		}
	}

	keys := make([]string, 0, len(n.Parameters))
	for k := range n.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == operationKey || k == resourceKey {
			continue
		}
		p, known := d.Property(k)
		switch {
		case !known:
			issue := Issue{
				Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: "parameters." + k,
				Message: fmt.Sprintf("unknown parameter %q for %s", k, d.Type),
			}
			if near := closest(k, propertyNames(d), 3); near != "" {
				issue.Suggestion = fmt.Sprintf("did you mean %q?", near)
			}
			r.report(r.policy.unknownParameter, issue)
		case !p.AppliesTo(op):
			r.report(r.policy.unknownParameter, Issue{
				Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: "parameters." + k,
				Message:    fmt.Sprintf("parameter %q is not used by operation %q", k, op),
				Suggestion: fmt.Sprintf("remove it or use one of: %s", strings.Join(p.Operations, ", ")),
			})
		}
	}
}

// declaredOperation returns the operation the node runs, falling back to
// the schema default of the operation property.
func declaredOperation(n *models.Node, d *models.NodeTypeDescriptor) string {
	if op, ok := n.Parameters[operationKey].(string); ok && op != "" {
		return op
	}
	if p, ok := d.Property(operationKey); ok {
		if def, ok := p.Default.(string); ok {
			return def
		}
	}
	return ""
}

func (r *run) checkCredentials(n *models.Node, d *models.NodeTypeDescriptor) {
	for _, c := range d.Credentials {
		if !c.Required {
			continue
		}
		if _, ok := n.Credentials[c.Name]; ok {
			continue
		}
		r.report(r.policy.missingCredential, Issue{
			Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: "credentials." + c.Name,
			Message:    fmt.Sprintf("credential %q is required by %s", c.Name, d.Type),
			Suggestion: fmt.Sprintf("attach a %s credential before activating the workflow", c.Name),
		})
	}
}

// typeMismatch returns a message and hint when v does not fit p. Expression
// values are resolved at runtime and accepted for every type.
func typeMismatch(p models.PropertySchema, v any) (string, string) {
	if s, ok := v.(string); ok && isExpression(s) {
		return "", ""
	}
	switch p.Type {
	case models.PropertyString:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("must be a string, got %s", jsonKind(v)), ""
		}
	case models.PropertyNumber:
		switch v.(type) {
		case float64, float32, int, int64, json.Number:
		default:
			return fmt.Sprintf("must be a number, got %s", jsonKind(v)), ""
		}
	case models.PropertyBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("must be a boolean, got %s", jsonKind(v)), ""
		}
	case models.PropertyOptions:
		s, ok := v.(string)
		if !ok {
			if _, isNum := v.(float64); isNum {
				return "", ""
			}
			return fmt.Sprintf("must be one of the listed options, got %s", jsonKind(v)), ""
		}
		if len(p.Options) > 0 && !slices.Contains(p.Options, s) {
			hint := fmt.Sprintf("valid options: %s", strings.Join(p.Options, ", "))
			if near := closest(s, p.Options, 3); near != "" {
				hint = fmt.Sprintf("did you mean %q?", near)
			}
			return fmt.Sprintf("has invalid option %q", s), hint
		}
	case models.PropertyMultiOptions:
		items, ok := v.([]any)
		if !ok {
			return fmt.Sprintf("must be a list of options, got %s", jsonKind(v)), ""
		}
		for _, it := range items {
			s, ok := it.(string)
			if !ok || (len(p.Options) > 0 && !slices.Contains(p.Options, s)) {
				return fmt.Sprintf("contains invalid option %v", it), fmt.Sprintf("valid options: %s", strings.Join(p.Options, ", "))
			}
		}
	case models.PropertyCollection, models.PropertyFixedCollection:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Sprintf("must be an object, got %s", jsonKind(v)), ""
		}
	case models.PropertyJSON:
		switch v.(type) {
		case string, map[string]any, []any:
		default:
			return fmt.Sprintf("must be JSON text or an object, got %s", jsonKind(v)), ""
		}
	}
	return "", ""
}

func describeType(p models.PropertySchema) string {
	if p.Type == models.PropertyOptions && len(p.Options) > 0 {
		return "one of " + strings.Join(p.Options, ", ")
	}
	if p.Type == "" {
		return "any value"
	}
	return p.Type
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func propertyNames(d *models.NodeTypeDescriptor) []string {
	names := make([]string, len(d.Properties))
	for i, p := range d.Properties {
		names[i] = p.Name
	}
	return names
}
