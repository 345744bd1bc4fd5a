package models

import (
	"strings"
	"time"
)

// Property value types understood by the validator.
const (
	PropertyString          = "string"
	PropertyNumber          = "number"
	PropertyBoolean         = "boolean"
	PropertyOptions         = "options"
	PropertyMultiOptions    = "multiOptions"
	PropertyCollection      = "collection"
	PropertyFixedCollection = "fixedCollection"
	PropertyJSON            = "json"
	PropertyNotice          = "notice"
)

// NodeTypeDescriptor describes one node type offered by the platform.
// Owned by the catalog synchronizer and read-only everywhere else.
type NodeTypeDescriptor struct {
	Type           string                  `json:"type"`
	DisplayName    string                  `json:"displayName"`
	CurrentVersion float64                 `json:"currentVersion"`
	Versions       []float64               `json:"versions,omitempty"`
	Properties     []PropertySchema        `json:"properties"`
	Operations     []string                `json:"operations,omitempty"`
	Credentials    []CredentialRequirement `json:"credentials,omitempty"`
	Trigger        bool                    `json:"trigger,omitempty"`
}

// PropertySchema is one typed parameter accepted by a node type.
type PropertySchema struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Default  any      `json:"default,omitempty"`
	Options  []string `json:"options,omitempty"`
	// Operations limits the property to the listed operations. Empty means
	// the property applies to every operation.
	Operations []string `json:"operations,omitempty"`
}

// CredentialRequirement names a credential type a node can use.
type CredentialRequirement struct {
	Name     string `json:"name"`
	Required bool   `json:"required,omitempty"`
}

// AppliesTo reports whether the property is relevant for operation.
func (p PropertySchema) AppliesTo(operation string) bool {
	if len(p.Operations) == 0 {
		return true
	}
	for _, op := range p.Operations {
		if op == operation {
			return true
		}
	}
	return false
}

// HasDefault reports whether the property carries a usable default value.
func (p PropertySchema) HasDefault() bool {
	switch v := p.Default.(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}

// Property returns the named property schema.
func (d *NodeTypeDescriptor) Property(name string) (PropertySchema, bool) {
	for _, p := range d.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertySchema{}, false
}

// LocalName returns the part of a namespaced type after the last dot.
func LocalName(nodeType string) string {
	if i := strings.LastIndex(nodeType, "."); i >= 0 {
		return nodeType[i+1:]
	}
	return nodeType
}

// CatalogEntry is the per-type summary held by a snapshot.
type CatalogEntry struct {
	Version    float64 `json:"version"`
	SchemaHash string  `json:"schemaHash"`
}

// CatalogDiff is the structural difference between two snapshots.
type CatalogDiff struct {
	FromVersion string             `json:"fromVersion"`
	ToVersion   string             `json:"toVersion"`
	Added       []string           `json:"added"`
	Modified    []ModifiedNodeType `json:"modified"`
	Removed     []string           `json:"removed"`
	ComputedAt  time.Time          `json:"computedAt"`
}

// ModifiedNodeType records a node type whose schema or version changed.
type ModifiedNodeType struct {
	Type       string   `json:"type"`
	OldVersion float64  `json:"oldVersion"`
	NewVersion float64  `json:"newVersion"`
	Breaking   bool     `json:"breaking"`
	Fields     []string `json:"fields,omitempty"`
}

// Empty reports whether the diff carries no changes.
func (d CatalogDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// IsRemoved reports whether nodeType was removed by this diff.
func (d CatalogDiff) IsRemoved(nodeType string) bool {
	for _, t := range d.Removed {
		if t == nodeType {
			return true
		}
	}
	return false
}

// Modification returns the modification record for nodeType, if any.
func (d CatalogDiff) Modification(nodeType string) (ModifiedNodeType, bool) {
	for _, m := range d.Modified {
		if m.Type == nodeType {
			return m, true
		}
	}
	return ModifiedNodeType{}, false
}
