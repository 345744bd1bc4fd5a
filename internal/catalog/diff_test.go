package catalog

import (
	"testing"

	"flowsentinel/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_SnapshotWithItselfIsEmpty(t *testing.T) {
	s := mustSnapshot(t, "1.64.0", webhookType(), httpRequestType(4.2))

	d := Diff(s, s, taken)

	assert.Equal(t, []string{}, d.Added)
	assert.Equal(t, []models.ModifiedNodeType{}, d.Modified)
	assert.Equal(t, []string{}, d.Removed)
	assert.True(t, d.Empty())
}

func TestDiff_FromNothing(t *testing.T) {
	s := mustSnapshot(t, "1.64.0", webhookType(), httpRequestType(4.2))

	d := Diff(nil, s, taken)

	assert.Equal(t, []string{"n8n-nodes-base.httpRequest", "n8n-nodes-base.webhook"}, d.Added)
	assert.Equal(t, "", d.FromVersion)
	assert.Equal(t, "1.64.0", d.ToVersion)
}

func TestDiff_AddedModifiedRemoved(t *testing.T) {
	from := mustSnapshot(t, "1.63.0", webhookType(), httpRequestType(4.1))
	slack := models.NodeTypeDescriptor{Type: "n8n-nodes-base.slack", CurrentVersion: 2}
	to := mustSnapshot(t, "1.64.0", httpRequestType(4.2), slack)

	d := Diff(from, to, taken)

	assert.Equal(t, []string{"n8n-nodes-base.slack"}, d.Added)
	assert.Equal(t, []string{"n8n-nodes-base.webhook"}, d.Removed)
	require.Len(t, d.Modified, 1)
	m := d.Modified[0]
	assert.Equal(t, "n8n-nodes-base.httpRequest", m.Type)
	assert.Equal(t, 4.1, m.OldVersion)
	assert.Equal(t, 4.2, m.NewVersion)
	assert.False(t, m.Breaking, "a version bump with the same schema is not breaking")
	assert.Equal(t, taken, d.ComputedAt)
}

func TestClassify(t *testing.T) {
	url := models.PropertySchema{Name: "url", Type: models.PropertyString, Required: true}
	method := models.PropertySchema{Name: "method", Type: models.PropertyOptions, Default: "GET", Options: []string{"GET", "POST"}}

	cases := []struct {
		name       string
		old, cur   []models.PropertySchema
		wantBreak  bool
		wantFields []string
	}{
		{name: "new optional field", old: []models.PropertySchema{url},
			cur: []models.PropertySchema{url, {Name: "timeout", Type: models.PropertyNumber}}},
		{name: "new required field with default", old: []models.PropertySchema{url},
			cur: []models.PropertySchema{url, {Name: "mode", Type: models.PropertyString, Required: true, Default: "auto"}}},
		{name: "new option", old: []models.PropertySchema{method},
			cur: []models.PropertySchema{{Name: "method", Type: models.PropertyOptions, Default: "GET", Options: []string{"GET", "POST", "PUT"}}}},
		{name: "optional field removed", old: []models.PropertySchema{url, {Name: "timeout", Type: models.PropertyNumber}},
			cur: []models.PropertySchema{url}},
		{name: "new required field", old: []models.PropertySchema{url},
			cur: []models.PropertySchema{url, {Name: "auth", Type: models.PropertyString, Required: true}},
			wantBreak: true, wantFields: []string{"auth"}},
		{name: "required field removed", old: []models.PropertySchema{url, method},
			cur: []models.PropertySchema{method}, wantBreak: true, wantFields: []string{"url"}},
		{name: "value type changed", old: []models.PropertySchema{url},
			cur: []models.PropertySchema{{Name: "url", Type: models.PropertyJSON, Required: true}},
			wantBreak: true, wantFields: []string{"url"}},
		{name: "option removed", old: []models.PropertySchema{method},
			cur: []models.PropertySchema{{Name: "method", Type: models.PropertyOptions, Default: "GET", Options: []string{"GET"}}},
			wantBreak: true, wantFields: []string{"method"}},
		{name: "optional became required", old: []models.PropertySchema{{Name: "url", Type: models.PropertyString}},
			cur: []models.PropertySchema{url}, wantBreak: true, wantFields: []string{"url"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			old := &models.NodeTypeDescriptor{Type: "x.y", Properties: tc.old}
			cur := &models.NodeTypeDescriptor{Type: "x.y", Properties: tc.cur}

			breaking, fields := classify(old, cur)

			assert.Equal(t, tc.wantBreak, breaking)
			assert.Equal(t, tc.wantFields, fields)
		})
	}
}

func TestClassify_OperationsAndCredentials(t *testing.T) {
	old := &models.NodeTypeDescriptor{Operations: []string{"post", "update"},
		Credentials: []models.CredentialRequirement{{Name: "slackApi"}}}

	added := &models.NodeTypeDescriptor{Operations: []string{"post", "update", "delete"},
		Credentials: []models.CredentialRequirement{{Name: "slackApi"}}}
	breaking, _ := classify(old, added)
	assert.False(t, breaking)

	removed := &models.NodeTypeDescriptor{Operations: []string{"post"},
		Credentials: []models.CredentialRequirement{{Name: "slackApi", Required: true}}}
	breaking, fields := classify(old, removed)
	assert.True(t, breaking)
	assert.Equal(t, []string{"credentials.slackApi", "operation"}, fields)
}

func TestDiff_BreakingModification(t *testing.T) {
	from := mustSnapshot(t, "1.63.0", httpRequestType(4.1))
	to := mustSnapshot(t, "1.64.0", httpRequestType(4.2,
		models.PropertySchema{Name: "url", Type: models.PropertyString, Required: true},
		models.PropertySchema{Name: "method", Type: models.PropertyOptions, Default: "GET", Options: []string{"GET"}},
	))

	d := Diff(from, to, taken)

	require.Len(t, d.Modified, 1)
	assert.True(t, d.Modified[0].Breaking)
	assert.Equal(t, []string{"method"}, d.Modified[0].Fields)
}
