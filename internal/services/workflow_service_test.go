package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sampleWorkflow() *models.WorkflowDocument {
	return &models.WorkflowDocument{
		Name: "Order sync",
		Nodes: []models.Node{
			{ID: "1", Name: "Webhook", Type: "n8n-nodes-base.webhook", TypeVersion: 2, Parameters: map[string]any{"path": "orders"}},
			{ID: "2", Name: "Slack", Type: "n8n-nodes-base.slack", TypeVersion: 2, Parameters: map[string]any{"channel": "#ops"}},
		},
		Connections: models.Connections{
			"Webhook": {"main": {{{Node: "Slack", Type: "main", Index: 0}}}},
		},
	}
}

func validVerdict() validation.Verdict {
	return validation.Verdict{Valid: true, PassedLayers: []validation.LayerName{validation.LayerStructural}}
}

func invalidVerdict(n int) validation.Verdict {
	v := validation.Verdict{Valid: false, FailedLayer: validation.LayerStructural}
	for i := 0; i < n; i++ {
		v.Errors = append(v.Errors, validation.Issue{Kind: validation.SchemaError, Message: "bad field"})
	}
	return v
}

func newWorkflowService() (*WorkflowService, *MockPlatform, *MockGate) {
	platform := new(MockPlatform)
	gate := new(MockGate)
	return NewWorkflowService(platform, gate, validation.ProfileRuntime, &NoOpLogger{}), platform, gate
}

func TestWorkflowService_CreateWorkflow(t *testing.T) {
	ctx := context.Background()

	t.Run("valid workflow is created", func(t *testing.T) {
		svc, platform, gate := newWorkflowService()
		doc := sampleWorkflow()
		created := sampleWorkflow()
		created.ID = "wf-1"

		gate.On("Preflight", mock.Anything, doc, mock.MatchedBy(func(o validation.Options) bool {
			return o.Intent == validation.IntentCreate && o.Mode == validation.ModeFull && o.Profile == validation.ProfileRuntime
		})).Return(validVerdict(), true, nil)
		platform.On("CreateWorkflow", mock.Anything, doc).Return(created, nil)

		result, err := svc.CreateWorkflow(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, "wf-1", result.Workflow.ID)
		assert.True(t, result.Verdict.Valid)
		assert.True(t, result.Cached)
		gate.AssertExpectations(t)
		platform.AssertExpectations(t)
	})

	t.Run("invalid workflow never reaches the platform", func(t *testing.T) {
		svc, platform, gate := newWorkflowService()
		doc := sampleWorkflow()
		gate.On("Preflight", mock.Anything, doc, mock.Anything).Return(invalidVerdict(1), false, nil)

		result, err := svc.CreateWorkflow(ctx, doc)
		assert.Nil(t, result)
		var rejected *RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Len(t, rejected.Verdict.Errors, 1)
		platform.AssertNotCalled(t, "CreateWorkflow", mock.Anything, mock.Anything)
	})

	t.Run("validation failure is not a rejection", func(t *testing.T) {
		svc, platform, gate := newWorkflowService()
		doc := sampleWorkflow()
		gate.On("Preflight", mock.Anything, doc, mock.Anything).Return(validation.Verdict{}, false, errors.New("catalog unavailable"))

		_, err := svc.CreateWorkflow(ctx, doc)
		require.Error(t, err)
		var rejected *RejectedError
		assert.False(t, errors.As(err, &rejected))
		platform.AssertNotCalled(t, "CreateWorkflow", mock.Anything, mock.Anything)
	})

	t.Run("platform error is wrapped", func(t *testing.T) {
		svc, platform, gate := newWorkflowService()
		doc := sampleWorkflow()
		cause := errors.New("boom")
		gate.On("Preflight", mock.Anything, doc, mock.Anything).Return(validVerdict(), false, nil)
		platform.On("CreateWorkflow", mock.Anything, doc).Return(nil, cause)

		_, err := svc.CreateWorkflow(ctx, doc)
		assert.ErrorIs(t, err, cause)
	})
}

func TestWorkflowService_UpdateWorkflow(t *testing.T) {
	ctx := context.Background()

	t.Run("requires id", func(t *testing.T) {
		svc, _, gate := newWorkflowService()
		_, err := svc.UpdateWorkflow(ctx, "", sampleWorkflow())
		assert.Error(t, err)
		gate.AssertNotCalled(t, "Preflight", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("replaces with replace intent", func(t *testing.T) {
		svc, platform, gate := newWorkflowService()
		doc := sampleWorkflow()
		gate.On("Preflight", mock.Anything, doc, mock.MatchedBy(func(o validation.Options) bool {
			return o.Intent == validation.IntentReplace && o.Mode == validation.ModeFull
		})).Return(validVerdict(), false, nil)
		platform.On("UpdateWorkflow", mock.Anything, "wf-1", doc).Return(doc, nil)

		result, err := svc.UpdateWorkflow(ctx, "wf-1", doc)
		require.NoError(t, err)
		assert.False(t, result.Cached)
		platform.AssertExpectations(t)
	})
}

func TestWorkflowService_ApplyOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("applies, scopes and submits without server fields", func(t *testing.T) {
		svc, platform, gate := newWorkflowService()
		current := sampleWorkflow()
		current.ID = "wf-1"
		current.ServerFields = map[string]json.RawMessage{"id": json.RawMessage(`"wf-1"`), "updatedAt": json.RawMessage(`"2026-01-01"`)}

		ops := []PartialOperation{
			{Type: validation.OpAddNode, Node: &models.Node{Name: "Set", Type: "n8n-nodes-base.set", TypeVersion: 3}},
			{Type: validation.OpAddConnection, Source: "Slack", Target: "Set"},
		}

		platform.On("GetWorkflow", mock.Anything, "wf-1").Return(current, nil)
		gate.On("Preflight", mock.Anything, mock.Anything, mock.MatchedBy(func(o validation.Options) bool {
			return o.Mode == validation.ModeOperation &&
				assert.ObjectsAreEqual([]validation.OperationKind{validation.OpAddNode, validation.OpAddConnection}, o.Scope.Operations) &&
				assert.ObjectsAreEqual([]string{"Set", "Slack"}, o.Scope.Nodes)
		})).Return(validVerdict(), false, nil)
		platform.On("UpdateWorkflow", mock.Anything, "wf-1", mock.MatchedBy(func(d *models.WorkflowDocument) bool {
			return d.ID == "" && len(d.ServerFields) == 0 && len(d.Nodes) == 3
		})).Return(current, nil)

		_, err := svc.ApplyOperations(ctx, "wf-1", ops)
		require.NoError(t, err)
		gate.AssertExpectations(t)
		platform.AssertExpectations(t)
	})

	t.Run("bad operation stops before validation", func(t *testing.T) {
		svc, platform, gate := newWorkflowService()
		platform.On("GetWorkflow", mock.Anything, "wf-1").Return(sampleWorkflow(), nil)

		_, err := svc.ApplyOperations(ctx, "wf-1", []PartialOperation{
			{Type: validation.OpRemoveNode, NodeName: "Missing"},
		})
		var opErr *OperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, 0, opErr.Index)
		gate.AssertNotCalled(t, "Preflight", mock.Anything, mock.Anything, mock.Anything)
		platform.AssertNotCalled(t, "UpdateWorkflow", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejected edit is not submitted", func(t *testing.T) {
		svc, platform, gate := newWorkflowService()
		platform.On("GetWorkflow", mock.Anything, "wf-1").Return(sampleWorkflow(), nil)
		gate.On("Preflight", mock.Anything, mock.Anything, mock.Anything).Return(invalidVerdict(5), false, nil)

		_, err := svc.ApplyOperations(ctx, "wf-1", []PartialOperation{
			{Type: validation.OpUpdateName, Name: "Renamed"},
		})
		var rejected *RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Contains(t, err.Error(), "5 error(s)")
		assert.Contains(t, err.Error(), "; ...")
		platform.AssertNotCalled(t, "UpdateWorkflow", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWorkflowService_ValidateDefaultsProfile(t *testing.T) {
	svc, _, gate := newWorkflowService()
	doc := sampleWorkflow()
	gate.On("Preflight", mock.Anything, doc, mock.MatchedBy(func(o validation.Options) bool {
		return o.Profile == validation.ProfileRuntime
	})).Return(validVerdict(), false, nil)

	verdict, _, err := svc.Validate(context.Background(), doc, validation.Options{Mode: validation.ModeFull})
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	gate.AssertExpectations(t)
}
