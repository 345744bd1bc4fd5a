package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"flowsentinel/backend/pkg/models"
)

// DefaultNamespace is the package prefix of the platform's core nodes.
const DefaultNamespace = "n8n-nodes-base"

// qualifiedType matches "<package>.<name>" with an optional npm scope,
// e.g. n8n-nodes-base.webhook or @n8n/n8n-nodes-langchain.agent.
var qualifiedType = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]*/)?[a-zA-Z0-9][a-zA-Z0-9_-]*\.[a-zA-Z0-9][a-zA-Z0-9_]*$`)

// shortPrefixes maps abbreviated package prefixes to their full names.
var shortPrefixes = [][2]string{
	{"nodes-base.", "n8n-nodes-base."},
	{"nodes-langchain.", "@n8n/n8n-nodes-langchain."},
	{"n8n-nodes-langchain.", "@n8n/n8n-nodes-langchain."},
}

func checkTypeExistence(r *run) {
	if r.cat == nil || len(r.cat.TypeNames()) == 0 {
		r.fail(Issue{
			Kind:       SchemaError,
			Message:    "node-type catalog is not loaded; types cannot be verified",
			Suggestion: "synchronize the catalog with the platform and validate again",
		})
		return
	}

	for i := range r.doc.Nodes {
		n := &r.doc.Nodes[i]
		if !r.inFocus(n.Name) {
			// Out-of-focus nodes still need descriptors for later layers.
			if d, ok := r.cat.NodeType(n.Type); ok {
				r.descriptors[n.Name] = d
			}
			continue
		}
		if d, ok := r.cat.NodeType(n.Type); ok {
			r.descriptors[n.Name] = d
			continue
		}
		r.fail(r.typeIssue(n))
	}
}

func (r *run) typeIssue(n *models.Node) Issue {
	issue := Issue{Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: "type"}
	t := strings.TrimSpace(n.Type)

	for _, p := range shortPrefixes {
		short, full := p[0], p[1]
		if strings.HasPrefix(t, short) {
			fixed := full + strings.TrimPrefix(t, short)
			issue.Message = fmt.Sprintf("node type %q uses an abbreviated package prefix", n.Type)
			issue.Suggestion = fmt.Sprintf("use the full type identifier %q", fixed)
			return issue
		}
	}

	if !strings.Contains(t, ".") {
		issue.Message = fmt.Sprintf("node type %q is missing its package namespace", n.Type)
		issue.Suggestion = fmt.Sprintf("use the namespaced type %q", r.qualify(t))
		return issue
	}

	if !qualifiedType.MatchString(t) {
		issue.Message = fmt.Sprintf("node type %q is not a valid type identifier", n.Type)
		issue.Suggestion = "type identifiers have the form <package>.<name>, e.g. n8n-nodes-base.httpRequest"
		return issue
	}

	issue.Message = fmt.Sprintf("unknown node type %q", n.Type)
	if r.cat.Diff().IsRemoved(t) {
		issue.Message = fmt.Sprintf("node type %q was removed from the platform", n.Type)
	}
	if s := r.suggestType(t); s != "" {
		issue.Suggestion = fmt.Sprintf("did you mean %q?", s)
	}
	return issue
}

// qualify finds the catalog type whose local name matches name, falling
// back to the core namespace.
func (r *run) qualify(name string) string {
	for _, t := range r.cat.TypeNames() {
		if strings.EqualFold(models.LocalName(t), name) {
			return t
		}
	}
	return DefaultNamespace + "." + name
}

func (r *run) suggestType(t string) string {
	names := r.cat.TypeNames()
	for _, candidate := range names {
		if strings.EqualFold(candidate, t) {
			return candidate
		}
	}
	local := models.LocalName(t)
	for _, candidate := range names {
		if strings.EqualFold(models.LocalName(candidate), local) {
			return candidate
		}
	}
	return closest(t, names, 4)
}

func checkTypeVersions(r *run) {
	if r.cat == nil {
		return
	}
	diff := r.cat.Diff()
	for i := range r.doc.Nodes {
		n := &r.doc.Nodes[i]
		d, ok := r.descriptors[n.Name]
		if !ok || !r.inFocus(n.Name) {
			continue
		}

		switch {
		case n.TypeVersion <= 0:
			r.report(r.policy.missingTypeVersion, Issue{
				Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: "typeVersion",
				Message:    "typeVersion is missing",
				Suggestion: fmt.Sprintf("set typeVersion to %s", formatVersion(d.CurrentVersion)),
			})

		case n.TypeVersion > d.CurrentVersion:
			r.fail(Issue{
				Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: "typeVersion",
				Message: fmt.Sprintf("typeVersion %s is newer than the platform's %s for %s",
					formatVersion(n.TypeVersion), formatVersion(d.CurrentVersion), d.Type),
				Suggestion: fmt.Sprintf("set typeVersion to %s", formatVersion(d.CurrentVersion)),
			})

		case len(d.Versions) > 0 && !slices.Contains(d.Versions, n.TypeVersion):
			r.fail(Issue{
				Kind: SchemaError, Node: n.Name, NodeID: n.ID, Field: "typeVersion",
				Message: fmt.Sprintf("typeVersion %s is not offered by %s", formatVersion(n.TypeVersion), d.Type),
				Suggestion: fmt.Sprintf("use one of %s", joinVersions(d.Versions)),
			})

		case n.TypeVersion < d.CurrentVersion:
			if m, ok := diff.Modification(d.Type); ok && m.Breaking {
				msg := fmt.Sprintf("typeVersion %s predates a breaking change in %s (now %s)",
					formatVersion(n.TypeVersion), d.Type, formatVersion(m.NewVersion))
				if len(m.Fields) > 0 {
					msg += fmt.Sprintf("; affected fields: %s", strings.Join(m.Fields, ", "))
				}
				r.fail(Issue{
					Kind: VersionMismatchError, Node: n.Name, NodeID: n.ID, Field: "typeVersion",
					Message:    msg,
					Suggestion: fmt.Sprintf("upgrade the node to typeVersion %s and review the affected fields", formatVersion(m.NewVersion)),
				})
				continue
			}
			r.report(r.policy.outdatedVersion, Issue{
				Kind: VersionMismatchError, Node: n.Name, NodeID: n.ID, Field: "typeVersion",
				Message: fmt.Sprintf("typeVersion %s is older than the current %s",
					formatVersion(n.TypeVersion), formatVersion(d.CurrentVersion)),
				Suggestion: fmt.Sprintf("consider upgrading to typeVersion %s", formatVersion(d.CurrentVersion)),
			})
		}
	}
}

func formatVersion(v float64) string {
	return fmt.Sprintf("%g", v)
}

func joinVersions(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = formatVersion(v)
	}
	return strings.Join(parts, ", ")
}

// isTriggerType reports whether a node type starts executions.
func isTriggerType(nodeType string, d *models.NodeTypeDescriptor) bool {
	if d != nil && d.Trigger {
		return true
	}
	local := strings.ToLower(models.LocalName(nodeType))
	return strings.HasSuffix(local, "trigger") || local == "webhook"
}
