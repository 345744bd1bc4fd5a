package catalog

import (
	"testing"
	"time"

	"flowsentinel/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taken = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func httpRequestType(version float64, props ...models.PropertySchema) models.NodeTypeDescriptor {
	if len(props) == 0 {
		props = []models.PropertySchema{
			{Name: "url", Type: models.PropertyString, Required: true},
			{Name: "method", Type: models.PropertyOptions, Default: "GET", Options: []string{"GET", "POST"}},
		}
	}
	return models.NodeTypeDescriptor{
		Type: "n8n-nodes-base.httpRequest", DisplayName: "HTTP Request",
		CurrentVersion: version, Properties: props,
	}
}

func webhookType() models.NodeTypeDescriptor {
	return models.NodeTypeDescriptor{
		Type: "n8n-nodes-base.webhook", DisplayName: "Webhook", CurrentVersion: 2, Trigger: true,
		Properties: []models.PropertySchema{{Name: "path", Type: models.PropertyString, Required: true}},
	}
}

func mustSnapshot(t *testing.T, version string, descriptors ...models.NodeTypeDescriptor) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(version, descriptors, taken)
	require.NoError(t, err)
	return s
}

func TestNewSnapshot(t *testing.T) {
	s := mustSnapshot(t, "1.64.0", webhookType(), httpRequestType(4.2))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"n8n-nodes-base.httpRequest", "n8n-nodes-base.webhook"}, s.TypeNames())
	assert.Equal(t, 4.2, s.Entries["n8n-nodes-base.httpRequest"].Version)
	assert.Len(t, s.Entries["n8n-nodes-base.httpRequest"].SchemaHash, 16)
	assert.Equal(t, []float64{4.2}, s.Types["n8n-nodes-base.httpRequest"].Versions)
	assert.Contains(t, s.Version(), "1.64.0+")
}

func TestNewSnapshot_MergesVersionedEntries(t *testing.T) {
	v3 := httpRequestType(3)
	v3.Versions = []float64{1, 2, 3}
	v4 := httpRequestType(4.2)
	v4.Versions = []float64{4, 4.1, 4.2}

	s := mustSnapshot(t, "1.64.0", v4, v3)

	d := s.Types["n8n-nodes-base.httpRequest"]
	assert.Equal(t, 4.2, d.CurrentVersion)
	assert.Equal(t, []float64{1, 2, 3, 4, 4.1, 4.2}, d.Versions)
}

func TestNewSnapshot_Rejects(t *testing.T) {
	_, err := NewSnapshot("1.64.0", nil, taken)
	assert.Error(t, err)

	_, err = NewSnapshot("1.64.0", []models.NodeTypeDescriptor{{DisplayName: "nameless"}}, taken)
	assert.Error(t, err)
}

func TestSchemaHash(t *testing.T) {
	base := mustSnapshot(t, "1", httpRequestType(4.2))
	hash := base.Entries["n8n-nodes-base.httpRequest"].SchemaHash

	renamed := httpRequestType(4.2)
	renamed.DisplayName = "HTTP"
	assert.Equal(t, hash, mustSnapshot(t, "1", renamed).Entries["n8n-nodes-base.httpRequest"].SchemaHash,
		"display names are not schema")

	reordered := httpRequestType(4.2,
		models.PropertySchema{Name: "method", Type: models.PropertyOptions, Default: "GET", Options: []string{"POST", "GET"}},
		models.PropertySchema{Name: "url", Type: models.PropertyString, Required: true},
	)
	assert.Equal(t, hash, mustSnapshot(t, "1", reordered).Entries["n8n-nodes-base.httpRequest"].SchemaHash,
		"property order is not schema")

	changed := httpRequestType(4.2,
		models.PropertySchema{Name: "url", Type: models.PropertyString, Required: true},
	)
	assert.NotEqual(t, hash, mustSnapshot(t, "1", changed).Entries["n8n-nodes-base.httpRequest"].SchemaHash)
	assert.NotEqual(t, base.Version(), mustSnapshot(t, "1", changed).Version())
}

func TestNilSnapshot(t *testing.T) {
	var s *Snapshot
	assert.Equal(t, "", s.Version())
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.TypeNames())
}

func TestView(t *testing.T) {
	empty := NewView(nil, models.CatalogDiff{})
	assert.Empty(t, empty.TypeNames())
	assert.Equal(t, "", empty.Version())
	_, ok := empty.NodeType("n8n-nodes-base.webhook")
	assert.False(t, ok)

	s := mustSnapshot(t, "1.64.0", webhookType())
	v := NewView(s, Diff(nil, s, taken))
	d, ok := v.NodeType("n8n-nodes-base.webhook")
	require.True(t, ok)
	assert.True(t, d.Trigger)
	assert.Equal(t, "1.64.0", v.PlatformVersion())
	assert.Equal(t, []string{"n8n-nodes-base.webhook"}, v.Diff().Added)
	assert.True(t, v.Contains("n8n-nodes-base.webhook"))
	assert.False(t, v.Contains("n8n-nodes-base.webhook", "n8n-nodes-base.slack"))
}
