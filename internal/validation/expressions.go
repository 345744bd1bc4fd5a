package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	exprSegment   = regexp.MustCompile(`\{\{([\s\S]*?)\}\}`)
	nodeCallRef   = regexp.MustCompile(`\$\(\s*['"]([^'"]+)['"]\s*\)`)
	nodeIndexRef  = regexp.MustCompile(`\$node\[\s*['"]([^'"]+)['"]\s*\]`)
	nodeDotRef    = regexp.MustCompile(`\$node\.([A-Za-z_][A-Za-z0-9_]*)`)
	itemsRef      = regexp.MustCompile(`\$items\(\s*['"]([^'"]+)['"]`)
	variableToken = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// builtinVariables lists the context variables available in expressions.
// The value is true for variables that only resolve during execution.
var builtinVariables = map[string]bool{
	"json":               true,
	"binary":             true,
	"input":              true,
	"items":              true,
	"item":               true,
	"prevNode":           true,
	"runIndex":           true,
	"position":           true,
	"execution":          true,
	"response":           true,
	"request":            true,
	"pageCount":          true,
	"data":               true,
	"self":               true,
	"resumeWebhookUrl":   true,
	"agentInfo":          true,
	"fromAI":             true,
	"node":               false,
	"parameter":          false,
	"env":                false,
	"vars":               false,
	"secrets":            false,
	"workflow":           false,
	"mode":               false,
	"nodeVersion":        false,
	"now":                false,
	"today":              false,
	"jmespath":           false,
	"evaluateExpression": false,
	"if":                 false,
	"ifEmpty":            false,
	"max":                false,
	"min":                false,
}

// isExpression reports whether a parameter value is evaluated as an
// expression by the platform.
func isExpression(s string) bool {
	return strings.HasPrefix(s, "=")
}

func checkExpressions(r *run) {
	for i := range r.doc.Nodes {
		n := &r.doc.Nodes[i]
		if !r.inFocus(n.Name) || n.Disabled {
			continue
		}
		walkStrings(n.Parameters, "parameters", func(path, value string) {
			r.checkExpressionValue(n.Name, n.ID, path, value)
		})
	}
}

func (r *run) checkExpressionValue(node, nodeID, path, value string) {
	if !isExpression(value) {
		if strings.Contains(value, "{{") && strings.Contains(value, "}}") {
			r.report(r.policy.unevaluatedBraces, Issue{
				Kind: SchemaError, Node: node, NodeID: nodeID, Field: path,
				Message:    "value contains {{ }} but is not marked as an expression",
				Suggestion: "prefix the value with '=' so the platform evaluates it",
			})
		}
		return
	}

	body := value[1:]
	if strings.Count(body, "{{") != strings.Count(body, "}}") {
		r.fail(Issue{
			Kind: SchemaError, Node: node, NodeID: nodeID, Field: path,
			Message:    "expression has unbalanced {{ }} delimiters",
			Suggestion: "close every {{ with a matching }}",
		})
		return
	}

	for _, seg := range exprSegment.FindAllStringSubmatch(body, -1) {
		code := seg[1]
		if strings.TrimSpace(code) == "" {
			r.warn(Issue{Kind: SchemaError, Node: node, NodeID: nodeID, Field: path, Message: "empty expression {{ }}"})
			continue
		}
		for _, ref := range referencedNodes(code) {
			if _, ok := r.byName[ref]; ok {
				continue
			}
			issue := Issue{
				Kind: SchemaError, Node: node, NodeID: nodeID, Field: path,
				Message: fmt.Sprintf("expression references undefined node %q", ref),
			}
			if target, ok := r.byID[ref]; ok {
				issue.Suggestion = fmt.Sprintf("use node name %q, not id %q", target.Name, ref)
			} else if near := closest(ref, r.nodeNames(), 3); near != "" {
				issue.Suggestion = fmt.Sprintf("did you mean node %q?", near)
			}
			r.fail(issue)
		}

		runtimeOnly := false
		for _, m := range variableToken.FindAllStringSubmatch(blankLiterals(code), -1) {
			name := m[1]
			rt, known := builtinVariables[name]
			if !known {
				r.fail(Issue{
					Kind: SchemaError, Node: node, NodeID: nodeID, Field: path,
					Message:    fmt.Sprintf("unknown context variable $%s", name),
					Suggestion: suggestVariable(name),
				})
				continue
			}
			runtimeOnly = runtimeOnly || rt
		}
		if runtimeOnly {
			r.stats.RuntimeExpressions++
		}
	}
}

// referencedNodes extracts the node names an expression reads from.
func referencedNodes(code string) []string {
	seen := make(map[string]bool)
	for _, re := range []*regexp.Regexp{nodeCallRef, nodeIndexRef, nodeDotRef, itemsRef} {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			seen[m[1]] = true
		}
	}
	refs := make([]string, 0, len(seen))
	for name := range seen {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	return refs
}

// blankLiterals replaces the contents of quoted string literals with spaces
// so that a '$' inside text is not read as a context variable. The
// substitutions of template literals stay visible.
func blankLiterals(code string) string {
	out := []byte(code)
	var (
		quote   byte
		escaped bool
		braces  []int // open ${ substitutions, counting nested braces
	)
	for i := 0; i < len(out); i++ {
		c := out[i]
		if quote == 0 {
			switch {
			case c == '\'' || c == '"' || c == '`':
				quote = c
			case c == '{' && len(braces) > 0:
				braces[len(braces)-1]++
			case c == '}' && len(braces) > 0:
				if braces[len(braces)-1] == 0 {
					braces = braces[:len(braces)-1]
					quote = '`'
				} else {
					braces[len(braces)-1]--
				}
			}
			continue
		}
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == quote:
			quote = 0
			continue
		case quote == '`' && c == '$' && i+1 < len(out) && out[i+1] == '{':
			quote = 0
			braces = append(braces, 0)
			i++
			continue
		}
		out[i] = ' '
	}
	return string(out)
}

func suggestVariable(name string) string {
	names := make([]string, 0, len(builtinVariables))
	for v := range builtinVariables {
		names = append(names, v)
	}
	sort.Strings(names)
	if near := closest(name, names, 2); near != "" {
		return fmt.Sprintf("did you mean $%s?", near)
	}
	return "use $json for the current item or $('Node Name') for another node's output"
}

// walkStrings calls fn for every string leaf under v with its dotted path.
func walkStrings(v any, path string, fn func(path, value string)) {
	switch t := v.(type) {
	case string:
		fn(path, t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := k
			if path != "" {
				child = path + "." + k
			}
			walkStrings(t[k], child, fn)
		}
	case []any:
		for i, item := range t {
			walkStrings(item, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	}
}
