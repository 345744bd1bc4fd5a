package validation

import (
	"fmt"
	"sort"
	"strings"

	"flowsentinel/backend/pkg/models"
)

// allowedSettings are the workflow settings the platform accepts on write.
var allowedSettings = map[string]bool{
	"saveExecutionProgress":    true,
	"saveManualExecutions":     true,
	"saveDataErrorExecution":   true,
	"saveDataSuccessExecution": true,
	"executionTimeout":         true,
	"errorWorkflow":            true,
	"timezone":                 true,
	"executionOrder":           true,
	"callerPolicy":             true,
	"callerIds":                true,
	"timeSavedPerExecution":    true,
}

// checkContract rejects payload content the platform assigns itself. It
// only applies to documents about to be created or fully replaced.
func checkContract(r *run) {
	if r.opts.Intent != IntentCreate && r.opts.Intent != IntentReplace {
		return
	}

	present := make(map[string]bool, len(r.doc.ServerFields)+1)
	for k := range r.doc.ServerFields {
		present[k] = true
	}
	if r.doc.ID != "" {
		present["id"] = true
	}
	fields := make([]string, 0, len(present))
	for k := range present {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, f := range fields {
		msg := fmt.Sprintf("field %q is assigned by the platform and must not be submitted", f)
		if f == "id" && r.opts.Intent == IntentReplace {
			msg = "field \"id\" belongs in the request path, not the workflow body"
		}
		r.fail(Issue{
			Kind: SchemaError, Field: f,
			Message:    msg,
			Suggestion: fmt.Sprintf("remove %q from the payload", f),
		})
	}

	if strings.TrimSpace(r.doc.Name) == "" {
		r.fail(Issue{
			Kind: SchemaError, Field: "name",
			Message:    "workflow name is required",
			Suggestion: "give the workflow a descriptive name",
		})
	}

	keys := make([]string, 0, len(r.doc.Settings))
	for k := range r.doc.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if allowedSettings[k] {
			continue
		}
		r.fail(Issue{
			Kind: SchemaError, Field: "settings." + k,
			Message:    fmt.Sprintf("setting %q is not accepted by the platform", k),
			Suggestion: fmt.Sprintf("remove settings.%s", k),
		})
	}

	for i := range r.doc.Nodes {
		n := &r.doc.Nodes[i]
		if n.Parameters == nil {
			r.warn(Issue{
				Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: "parameters",
				Message:    "node has no parameters object",
				Suggestion: "send an empty object {} for nodes without parameters",
			})
		}
	}
}

// ServerAssignedKeys returns the sorted server-assigned keys present in doc.
func ServerAssignedKeys(doc *models.WorkflowDocument) []string {
	keys := make([]string, 0, len(doc.ServerFields))
	for k := range doc.ServerFields {
		keys = append(keys, k)
	}
	if doc.ID != "" && doc.ServerFields["id"] == nil {
		keys = append(keys, "id")
	}
	sort.Strings(keys)
	return keys
}
