package catalog

import (
	"slices"
	"sort"
	"time"

	"flowsentinel/backend/pkg/models"
)

// Diff computes the structural difference from one snapshot to the next. A
// nil from snapshot reports every type as added.
func Diff(from, to *Snapshot, computedAt time.Time) models.CatalogDiff {
	diff := models.CatalogDiff{
		Added:      []string{},
		Modified:   []models.ModifiedNodeType{},
		Removed:    []string{},
		ComputedAt: computedAt,
	}
	if from != nil {
		diff.FromVersion = from.PlatformVersion
	}
	if to != nil {
		diff.ToVersion = to.PlatformVersion
	}

	for _, name := range to.TypeNames() {
		newEntry := to.Entries[name]
		oldEntry, existed := lookupEntry(from, name)
		if !existed {
			diff.Added = append(diff.Added, name)
			continue
		}
		if oldEntry == newEntry {
			continue
		}
		breaking, fields := classify(from.Types[name], to.Types[name])
		diff.Modified = append(diff.Modified, models.ModifiedNodeType{
			Type:       name,
			OldVersion: oldEntry.Version,
			NewVersion: newEntry.Version,
			Breaking:   breaking,
			Fields:     fields,
		})
	}
	for _, name := range from.TypeNames() {
		if _, ok := lookupEntry(to, name); !ok {
			diff.Removed = append(diff.Removed, name)
		}
	}
	return diff
}

func lookupEntry(s *Snapshot, name string) (models.CatalogEntry, bool) {
	if s == nil {
		return models.CatalogEntry{}, false
	}
	e, ok := s.Entries[name]
	return e, ok
}

// classify decides whether a schema change can turn a previously valid
// document invalid, and names the fields responsible. Adding optional
// properties, operations or options is never breaking.
func classify(old, cur *models.NodeTypeDescriptor) (bool, []string) {
	if old == nil || cur == nil {
		return false, nil
	}
	fields := make(map[string]bool)

	for _, op := range old.Properties {
		np, ok := cur.Property(op.Name)
		if !ok {
			// A required field that no longer exists cannot be satisfied.
			if op.Required {
				fields[op.Name] = true
			}
			continue
		}
		if op.Type != np.Type {
			fields[op.Name] = true
			continue
		}
		if np.Required && !np.HasDefault() && (!op.Required || op.HasDefault()) {
			fields[op.Name] = true
			continue
		}
		if narrowed(op.Options, np.Options) {
			fields[op.Name] = true
		}
	}

	for _, np := range cur.Properties {
		if _, existed := old.Property(np.Name); !existed && np.Required && !np.HasDefault() {
			fields[np.Name] = true
		}
	}

	if narrowed(old.Operations, cur.Operations) {
		fields["operation"] = true
	}

	for _, c := range cur.Credentials {
		if !c.Required {
			continue
		}
		wasRequired := slices.ContainsFunc(old.Credentials, func(o models.CredentialRequirement) bool {
			return o.Name == c.Name && o.Required
		})
		if !wasRequired {
			fields["credentials."+c.Name] = true
		}
	}

	if len(fields) == 0 {
		return false, nil
	}
	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return true, out
}

// narrowed reports whether cur drops any value old allowed. An empty list
// places no restriction, so going from empty to non-empty narrows too.
func narrowed(old, cur []string) bool {
	if len(cur) == 0 {
		return false
	}
	if len(old) == 0 {
		return true
	}
	for _, v := range old {
		if !slices.Contains(cur, v) {
			return true
		}
	}
	return false
}
