package catalog

import "flowsentinel/backend/pkg/models"

// View pairs a snapshot with the diff that produced it. Validation reads
// both, so they are published together in one atomic swap.
type View struct {
	snapshot *Snapshot
	diff     models.CatalogDiff
	names    []string
}

// NewView creates a view. snapshot may be nil for an empty catalog.
func NewView(snapshot *Snapshot, diff models.CatalogDiff) *View {
	return &View{snapshot: snapshot, diff: diff, names: snapshot.TypeNames()}
}

func (v *View) NodeType(nodeType string) (*models.NodeTypeDescriptor, bool) {
	if v.snapshot == nil {
		return nil, false
	}
	d, ok := v.snapshot.Types[nodeType]
	return d, ok
}

// TypeNames returns the sorted node types. Callers must not modify the
// returned slice.
func (v *View) TypeNames() []string {
	return v.names
}

func (v *View) Diff() models.CatalogDiff {
	return v.diff
}

// Version returns the snapshot identity, empty before the first sync.
func (v *View) Version() string {
	return v.snapshot.Version()
}

// PlatformVersion returns the platform version the snapshot was taken from.
func (v *View) PlatformVersion() string {
	if v.snapshot == nil {
		return ""
	}
	return v.snapshot.PlatformVersion
}

// Snapshot returns the underlying snapshot, nil before the first sync.
func (v *View) Snapshot() *Snapshot {
	return v.snapshot
}

// Contains reports whether every listed node type is in the catalog.
func (v *View) Contains(nodeTypes ...string) bool {
	for _, t := range nodeTypes {
		if _, ok := v.NodeType(t); !ok {
			return false
		}
	}
	return true
}
