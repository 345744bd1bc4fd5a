package cache

import (
	"encoding/json"
	"testing"

	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() *models.WorkflowDocument {
	return &models.WorkflowDocument{
		Name: "Order sync",
		Nodes: []models.Node{
			{ID: "a", Name: "Webhook", Type: "n8n-nodes-base.webhook", TypeVersion: 2,
				Parameters: map[string]any{"path": "orders"}, Position: [2]float64{0, 0}},
			{ID: "b", Name: "Set", Type: "n8n-nodes-base.set", TypeVersion: 3.4,
				Parameters: map[string]any{"mode": "manual"}, Position: [2]float64{200, 0}},
		},
		Connections: models.Connections{
			"Webhook": {"main": {{{Node: "Set", Type: "main", Index: 0}}}},
		},
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a, err := Fingerprint(sampleDoc())
	require.NoError(t, err)
	b, err := Fingerprint(sampleDoc())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_IgnoresPositionsAndNodeOrder(t *testing.T) {
	base, err := Fingerprint(sampleDoc())
	require.NoError(t, err)

	moved := sampleDoc()
	moved.Nodes[1].Position = [2]float64{480, 320}
	moved.Nodes[0], moved.Nodes[1] = moved.Nodes[1], moved.Nodes[0]
	got, err := Fingerprint(moved)
	require.NoError(t, err)

	assert.Equal(t, base, got)
}

func TestFingerprint_ChangesWithContent(t *testing.T) {
	base, err := Fingerprint(sampleDoc())
	require.NoError(t, err)

	mutations := map[string]func(d *models.WorkflowDocument){
		"parameter":   func(d *models.WorkflowDocument) { d.Nodes[1].Parameters["mode"] = "raw" },
		"type":        func(d *models.WorkflowDocument) { d.Nodes[0].Type = "webhook" },
		"version":     func(d *models.WorkflowDocument) { d.Nodes[1].TypeVersion = 3 },
		"disabled":    func(d *models.WorkflowDocument) { d.Nodes[1].Disabled = true },
		"connections": func(d *models.WorkflowDocument) { d.Connections = models.Connections{} },
		"name":        func(d *models.WorkflowDocument) { d.Name = "Other" },
		"settings":    func(d *models.WorkflowDocument) { d.Settings = map[string]any{"timezone": "UTC"} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			doc := sampleDoc()
			mutate(doc)
			got, err := Fingerprint(doc)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestFingerprint_ServerFieldPresenceNotValue(t *testing.T) {
	decode := func(payload string) *models.WorkflowDocument {
		var doc models.WorkflowDocument
		require.NoError(t, json.Unmarshal([]byte(payload), &doc))
		return &doc
	}
	withStamp := func(ts string) string {
		return `{"name":"w","updatedAt":"` + ts + `","nodes":[{"name":"A","type":"n8n-nodes-base.set"}],"connections":{}}`
	}

	first, err := Fingerprint(decode(withStamp("2024-01-01T00:00:00Z")))
	require.NoError(t, err)
	second, err := Fingerprint(decode(withStamp("2024-06-01T00:00:00Z")))
	require.NoError(t, err)
	without, err := Fingerprint(decode(`{"name":"w","nodes":[{"name":"A","type":"n8n-nodes-base.set"}],"connections":{}}`))
	require.NoError(t, err)

	assert.Equal(t, first, second, "timestamps do not change the fingerprint")
	assert.NotEqual(t, first, without, "a payload carrying server fields validates differently")
}

func TestKey_IncludesOptions(t *testing.T) {
	doc := sampleDoc()
	full, err := Key(doc, validation.DefaultOptions())
	require.NoError(t, err)
	strict, err := Key(doc, validation.Options{Mode: validation.ModeFull, Profile: validation.ProfileStrict, Intent: validation.IntentCheck})
	require.NoError(t, err)
	create, err := Key(doc, validation.Options{Mode: validation.ModeFull, Profile: validation.ProfileAIFriendly, Intent: validation.IntentCreate})
	require.NoError(t, err)

	assert.NotEqual(t, full, strict)
	assert.NotEqual(t, full, create)

	scoped := func(nodes ...string) string {
		k, err := Key(doc, validation.Options{
			Mode: validation.ModeOperation, Profile: validation.ProfileAIFriendly, Intent: validation.IntentCheck,
			Scope: validation.Scope{Operations: []validation.OperationKind{validation.OpUpdateNode}, Nodes: nodes},
		})
		require.NoError(t, err)
		return k
	}
	assert.Equal(t, scoped("Set", "Webhook"), scoped("Webhook", "Set"))
	assert.NotEqual(t, scoped("Set"), scoped("Webhook"))
}
