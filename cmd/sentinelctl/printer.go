package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"flowsentinel/backend/internal/validation"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
)

// printVerdictSummary writes a human-readable digest of a verdict. The
// full verdict goes to stdout as JSON; this goes to stderr.
func printVerdictSummary(w io.Writer, v validation.Verdict) {
	if v.Valid {
		green.Fprintf(w, "✓ valid: %d node(s), %d connection(s), %d warning(s)\n",
			v.Statistics.NodeCount, v.Statistics.ConnectionCount, len(v.Warnings))
	} else {
		red.Fprintf(w, "✗ invalid: %d error(s), %d warning(s)\n", len(v.Errors), len(v.Warnings))
	}
	for _, is := range v.Errors {
		red.Fprint(w, "  error   ")
		fmt.Fprintln(w, describeIssue(is))
	}
	for _, is := range v.Warnings {
		yellow.Fprint(w, "  warning ")
		fmt.Fprintln(w, describeIssue(is))
	}
}

func describeIssue(is validation.Issue) string {
	msg := is.Message
	if is.Node != "" {
		msg = fmt.Sprintf("[%s] %s", is.Node, msg)
	}
	if is.Suggestion != "" {
		msg += " (" + is.Suggestion + ")"
	}
	return msg
}
