package services

import (
	"testing"

	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOperations_AddNode(t *testing.T) {
	doc := sampleWorkflow()
	scope, err := applyOperations(doc, []PartialOperation{
		{Type: validation.OpAddNode, Node: &models.Node{Name: "Set", Type: "n8n-nodes-base.set"}},
	})
	require.NoError(t, err)

	n, ok := doc.NodeByName("Set")
	require.True(t, ok)
	assert.NotEmpty(t, n.ID)
	assert.NotNil(t, n.Parameters)
	assert.Equal(t, []string{"Set"}, scope.Nodes)
	assert.Equal(t, []validation.OperationKind{validation.OpAddNode}, scope.Operations)

	_, err = applyOperations(doc, []PartialOperation{
		{Type: validation.OpAddNode, Node: &models.Node{Name: "Set", Type: "n8n-nodes-base.set"}},
	})
	assert.ErrorContains(t, err, "already exists")
}

func TestApplyOperations_RemoveNodeDropsConnections(t *testing.T) {
	doc := sampleWorkflow()
	scope, err := applyOperations(doc, []PartialOperation{
		{Type: validation.OpRemoveNode, NodeName: "Slack"},
	})
	require.NoError(t, err)

	assert.Len(t, doc.Nodes, 1)
	assert.Empty(t, doc.Connections.Edges())
	// The upstream neighbour is re-validated; the removed node is gone.
	assert.Equal(t, []string{"Webhook"}, scope.Nodes)
}

func TestApplyOperations_RemoveNodeByID(t *testing.T) {
	doc := sampleWorkflow()
	_, err := applyOperations(doc, []PartialOperation{
		{Type: validation.OpRemoveNode, NodeName: "1"},
	})
	require.NoError(t, err)
	_, ok := doc.NodeByName("Webhook")
	assert.False(t, ok)
	_, ok = doc.Connections["Webhook"]
	assert.False(t, ok)
}

func TestApplyOperations_UpdateNode(t *testing.T) {
	t.Run("rename rewrites connections", func(t *testing.T) {
		doc := sampleWorkflow()
		_, err := applyOperations(doc, []PartialOperation{
			{Type: validation.OpUpdateNode, NodeName: "Slack", Updates: map[string]any{"name": "Notify"}},
		})
		require.NoError(t, err)

		edges := doc.Connections.Edges()
		require.Len(t, edges, 1)
		assert.Equal(t, "Notify", edges[0].Target.Node)

		_, err = applyOperations(doc, []PartialOperation{
			{Type: validation.OpUpdateNode, NodeName: "Webhook", Updates: map[string]any{"name": "Start"}},
		})
		require.NoError(t, err)
		_, ok := doc.Connections["Start"]
		assert.True(t, ok)
	})

	t.Run("dotted parameter path", func(t *testing.T) {
		doc := sampleWorkflow()
		_, err := applyOperations(doc, []PartialOperation{
			{Type: validation.OpUpdateNode, NodeName: "Slack", Updates: map[string]any{
				"parameters.options.timeout": float64(30),
				"parameters.channel":         nil,
			}},
		})
		require.NoError(t, err)

		n, _ := doc.NodeByName("Slack")
		assert.Equal(t, map[string]any{"options": map[string]any{"timeout": float64(30)}}, n.Parameters)
	})

	t.Run("rejects bad values", func(t *testing.T) {
		cases := map[string]map[string]any{
			"unknown key":       {"color": "red"},
			"non-string type":   {"type": 3},
			"non-number ver":    {"typeVersion": "2"},
			"scalar in path":    {"parameters.channel.name": "x"},
			"duplicate name":    {"name": "Webhook"},
			"empty updates map": {},
		}
		for name, updates := range cases {
			t.Run(name, func(t *testing.T) {
				doc := sampleWorkflow()
				_, err := applyOperations(doc, []PartialOperation{
					{Type: validation.OpUpdateNode, NodeName: "Slack", Updates: updates},
				})
				var opErr *OperationError
				assert.ErrorAs(t, err, &opErr)
			})
		}
	})
}

func TestApplyOperations_Connections(t *testing.T) {
	doc := sampleWorkflow()
	_, err := applyOperations(doc, []PartialOperation{
		{Type: validation.OpAddConnection, Source: "Webhook", Target: "Slack", SourceOutput: 1},
	})
	require.NoError(t, err)
	assert.Len(t, doc.Connections.Edges(), 2)

	_, err = applyOperations(doc, []PartialOperation{
		{Type: validation.OpAddConnection, Source: "Webhook", Target: "Slack"},
	})
	assert.ErrorContains(t, err, "already exists")

	_, err = applyOperations(doc, []PartialOperation{
		{Type: validation.OpAddConnection, Source: "Webhook", Target: "Ghost"},
	})
	assert.ErrorContains(t, err, "not found")

	_, err = applyOperations(doc, []PartialOperation{
		{Type: validation.OpRemoveConnection, Source: "Webhook", Target: "Slack"},
	})
	require.NoError(t, err)
	edges := doc.Connections.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, 1, edges[0].OutputIndex)

	_, err = applyOperations(doc, []PartialOperation{
		{Type: validation.OpRemoveConnection, Source: "Webhook", Target: "Slack", SourceOutput: 5},
	})
	assert.ErrorContains(t, err, "not found")
}

func TestApplyOperations_SettingsAndName(t *testing.T) {
	doc := sampleWorkflow()
	doc.Settings = map[string]any{"timezone": "UTC", "executionOrder": "v1"}

	scope, err := applyOperations(doc, []PartialOperation{
		{Type: validation.OpUpdateSettings, Settings: map[string]any{"timezone": nil, "saveManualExecutions": true}},
		{Type: validation.OpUpdateName, Name: "Renamed"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"executionOrder": "v1", "saveManualExecutions": true}, doc.Settings)
	assert.Equal(t, "Renamed", doc.Name)
	assert.Empty(t, scope.Nodes)
	assert.Equal(t, []validation.OperationKind{validation.OpUpdateSettings, validation.OpUpdateName}, scope.Operations)

	_, err = applyOperations(doc, []PartialOperation{{Type: validation.OpUpdateName, Name: "  "}})
	assert.Error(t, err)
}

func TestApplyOperations_Errors(t *testing.T) {
	_, err := applyOperations(sampleWorkflow(), nil)
	assert.Error(t, err)

	_, err = applyOperations(sampleWorkflow(), []PartialOperation{
		{Type: validation.OpUpdateName, Name: "ok"},
		{Type: "moveNode"},
	})
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, 1, opErr.Index)
	assert.Contains(t, opErr.Error(), "unknown operation type")
}
