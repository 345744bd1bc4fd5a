package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"
)

type fingerprintNode struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	TypeVersion float64        `json:"typeVersion"`
	Parameters  map[string]any `json:"parameters"`
	Disabled    bool           `json:"disabled"`
	Credentials map[string]any `json:"credentials"`
}

type fingerprintInput struct {
	Name        string             `json:"name"`
	Nodes       []fingerprintNode  `json:"nodes"`
	Connections models.Connections `json:"connections"`
	Settings    map[string]any     `json:"settings"`
	ServerKeys  []string           `json:"serverKeys"`
}

// Fingerprint hashes the content of doc that can change a verdict. Node
// positions and the values of server-assigned fields are left out; which
// server-assigned keys are present is kept because the contract layer
// reports them. Node order does not matter.
func Fingerprint(doc *models.WorkflowDocument) (string, error) {
	if doc == nil {
		doc = &models.WorkflowDocument{}
	}
	in := fingerprintInput{
		Name:        doc.Name,
		Nodes:       make([]fingerprintNode, len(doc.Nodes)),
		Connections: doc.Connections,
		Settings:    doc.Settings,
		ServerKeys:  validation.ServerAssignedKeys(doc),
	}
	for i, n := range doc.Nodes {
		in.Nodes[i] = fingerprintNode{
			ID:          n.ID,
			Name:        n.Name,
			Type:        n.Type,
			TypeVersion: n.TypeVersion,
			Parameters:  n.Parameters,
			Disabled:    n.Disabled,
			Credentials: n.Credentials,
		}
	}
	sort.SliceStable(in.Nodes, func(i, j int) bool {
		if in.Nodes[i].Name != in.Nodes[j].Name {
			return in.Nodes[i].Name < in.Nodes[j].Name
		}
		return in.Nodes[i].ID < in.Nodes[j].ID
	})

	// encoding/json writes map keys in sorted order, which makes the
	// encoding canonical.
	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to encode workflow for fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Key derives the cache key for doc validated with opts. The same document
// validated under a different mode, profile, intent or scope is a
// different entry.
func Key(doc *models.WorkflowDocument, opts validation.Options) (string, error) {
	fp, err := Fingerprint(doc)
	if err != nil {
		return "", err
	}
	return keyFor(fp, opts), nil
}

func keyFor(fingerprint string, opts validation.Options) string {
	parts := []string{fingerprint, string(opts.Mode), string(opts.Profile), string(opts.Intent)}
	if opts.Mode == validation.ModeOperation {
		ops := make([]string, len(opts.Scope.Operations))
		for i, op := range opts.Scope.Operations {
			ops[i] = string(op)
		}
		nodes := append([]string(nil), opts.Scope.Nodes...)
		sort.Strings(ops)
		sort.Strings(nodes)
		parts = append(parts, strings.Join(ops, ","), strings.Join(nodes, ","))
	}
	return strings.Join(parts, ":")
}
