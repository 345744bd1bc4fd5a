// Package catalog keeps the local node-type catalog in step with the
// automation platform and publishes immutable snapshots of it.
package catalog

import (
	"fmt"
	"sort"
	"time"

	"flowsentinel/backend/pkg/models"

	"github.com/mitchellh/hashstructure/v2"
)

// Snapshot is an immutable copy of the platform's node-type set. A new
// snapshot replaces the previous one wholesale; nothing mutates a
// published snapshot.
type Snapshot struct {
	PlatformVersion string                                `json:"platformVersion"`
	Entries         map[string]models.CatalogEntry        `json:"entries"`
	Types           map[string]*models.NodeTypeDescriptor `json:"types"`
	Digest          string                                `json:"digest"`
	TakenAt         time.Time                             `json:"takenAt"`
}

// schemaShape is the part of a descriptor that decides which documents
// validate. Display metadata is left out so cosmetic changes do not show
// up as modifications.
type schemaShape struct {
	Properties  []models.PropertySchema
	Operations  []string
	Credentials []models.CredentialRequirement
	Trigger     bool
}

var hashOpts = &hashstructure.HashOptions{SlicesAsSets: true}

// NewSnapshot builds a snapshot from the platform's descriptors. Several
// descriptors for one type are merged, keeping the newest version's schema
// and the union of offered versions. An empty set is rejected: the
// platform always ships core nodes, so an empty answer is a failed
// enumeration.
func NewSnapshot(platformVersion string, descriptors []models.NodeTypeDescriptor, takenAt time.Time) (*Snapshot, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("platform %s returned no node types", platformVersion)
	}

	types := make(map[string]*models.NodeTypeDescriptor, len(descriptors))
	for i := range descriptors {
		d := descriptors[i]
		if d.Type == "" {
			return nil, fmt.Errorf("node type descriptor %d has no type", i)
		}
		prev, ok := types[d.Type]
		if !ok {
			d.Versions = mergeVersions(nil, d.Versions, d.CurrentVersion)
			types[d.Type] = &d
			continue
		}
		versions := mergeVersions(prev.Versions, d.Versions, d.CurrentVersion)
		if d.CurrentVersion > prev.CurrentVersion {
			*prev = d
		}
		prev.Versions = versions
	}

	entries := make(map[string]models.CatalogEntry, len(types))
	for name, d := range types {
		h, err := hashstructure.Hash(schemaShape{
			Properties:  d.Properties,
			Operations:  d.Operations,
			Credentials: d.Credentials,
			Trigger:     d.Trigger,
		}, hashstructure.FormatV2, hashOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to hash schema of %s: %w", name, err)
		}
		entries[name] = models.CatalogEntry{Version: d.CurrentVersion, SchemaHash: fmt.Sprintf("%016x", h)}
	}

	digest, err := hashstructure.Hash(entries, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to hash catalog: %w", err)
	}

	return &Snapshot{
		PlatformVersion: platformVersion,
		Entries:         entries,
		Types:           types,
		Digest:          fmt.Sprintf("%016x", digest),
		TakenAt:         takenAt,
	}, nil
}

func mergeVersions(a, b []float64, current float64) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, list := range [][]float64{a, b, {current}} {
		for _, v := range list {
			if v > 0 && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Float64s(out)
	return out
}

// Version identifies the snapshot: the platform version plus a digest of
// the schema, so a forced resync that changes schemas without a platform
// version bump still yields a new identity.
func (s *Snapshot) Version() string {
	if s == nil {
		return ""
	}
	return s.PlatformVersion + "+" + s.Digest[:min(8, len(s.Digest))]
}

// Len returns the number of node types.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// TypeNames returns the node types in sorted order.
func (s *Snapshot) TypeNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Entries))
	for name := range s.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
