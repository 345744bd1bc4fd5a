package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nodeTypesJSON = `[
  {"type":"n8n-nodes-base.webhook","displayName":"Webhook","currentVersion":2,"trigger":true,
   "properties":[{"name":"path","type":"string","required":true}]},
  {"type":"n8n-nodes-base.set","displayName":"Edit Fields","currentVersion":3.4,
   "properties":[{"name":"mode","type":"options","default":"manual","options":["manual","raw"]}]}
]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	catalogFile := writeFile(t, "node-types.json", nodeTypesJSON)

	t.Run("valid workflow", func(t *testing.T) {
		wf := writeFile(t, "wf.json", `{
			"name": "Orders",
			"nodes": [
				{"id":"1","name":"Webhook","type":"n8n-nodes-base.webhook","typeVersion":2,"parameters":{"path":"orders"}},
				{"id":"2","name":"Set","type":"n8n-nodes-base.set","typeVersion":3.4,"parameters":{}}
			],
			"connections": {"Webhook":{"main":[[{"node":"Set","type":"main","index":0}]]}}
		}`)

		out, err := execute(t, "validate", wf, "--catalog", catalogFile)
		require.NoError(t, err)

		var verdict validation.Verdict
		require.NoError(t, json.Unmarshal([]byte(out), &verdict))
		assert.True(t, verdict.Valid)
		assert.Empty(t, verdict.Errors)
	})

	t.Run("unknown node type", func(t *testing.T) {
		wf := writeFile(t, "wf.json", `{
			"name": "Broken",
			"nodes": [
				{"id":"1","name":"Webhook","type":"n8n-nodes-base.webhook","typeVersion":2,"parameters":{"path":"orders"}},
				{"id":"2","name":"Mystery","type":"n8n-nodes-base.doesNotExist","typeVersion":1,"parameters":{}}
			],
			"connections": {"Webhook":{"main":[[{"node":"Mystery","type":"main","index":0}]]}}
		}`)

		out, err := execute(t, "validate", wf, "--catalog", catalogFile)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workflow is invalid")

		var verdict validation.Verdict
		require.NoError(t, json.Unmarshal([]byte(out), &verdict))
		assert.False(t, verdict.Valid)
		assert.NotEmpty(t, verdict.Errors)
	})

	t.Run("bad profile", func(t *testing.T) {
		wf := writeFile(t, "wf.json", `{"name":"x","nodes":[],"connections":{}}`)
		_, err := execute(t, "validate", wf, "--catalog", catalogFile, "--profile", "lenient")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope.json"), "--catalog", catalogFile)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read")
	})
}

func TestDecideCommand(t *testing.T) {
	catalogFile := writeFile(t, "node-types.json", nodeTypesJSON)

	t.Run("promote", func(t *testing.T) {
		input := writeFile(t, "evidence.json", `{"evidence":{
			"patternId":"webhook-set-1",
			"nodeTypes":["n8n-nodes-base.webhook","n8n-nodes-base.set"],
			"successCount":5,"failureCount":0,"embeddingConfidence":0.92}}`)

		out, err := execute(t, "decide", input, "--catalog", catalogFile)
		require.NoError(t, err)

		var d models.PatternDecision
		require.NoError(t, json.Unmarshal([]byte(out), &d))
		assert.Equal(t, models.DecisionPromote, d.Type)
		assert.Equal(t, "webhook-set-1", d.PatternID)
		assert.NotEmpty(t, d.Reasoning)
	})

	t.Run("not enough observations", func(t *testing.T) {
		input := writeFile(t, "evidence.json", `{"evidence":{
			"patternId":"webhook-set-1",
			"nodeTypes":["n8n-nodes-base.webhook","n8n-nodes-base.set"],
			"successCount":1,"embeddingConfidence":0.92}}`)

		out, err := execute(t, "decide", input, "--catalog", catalogFile)
		require.NoError(t, err)

		var d models.PatternDecision
		require.NoError(t, json.Unmarshal([]byte(out), &d))
		assert.Equal(t, models.DecisionHold, d.Type)
	})

	t.Run("pattern id required", func(t *testing.T) {
		input := writeFile(t, "evidence.json", `{"evidence":{"successCount":3}}`)
		_, err := execute(t, "decide", input, "--catalog", catalogFile)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "patternId")
	})
}

func TestReadSnapshot_RejectsEmptyFile(t *testing.T) {
	_, err := readSnapshot(writeFile(t, "empty.json", `[]`), "seed")
	assert.Error(t, err)
}

func TestPrintVerdictSummary(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	printVerdictSummary(&buf, validation.Verdict{
		Valid: false,
		Errors: []validation.Issue{
			{Node: "Slack", Message: "missing required parameter \"channel\"", Suggestion: "set channel"},
		},
		Warnings: []validation.Issue{{Message: "node is not connected"}},
	})

	out := buf.String()
	assert.Contains(t, out, "✗ invalid: 1 error(s), 1 warning(s)")
	assert.Contains(t, out, "[Slack] missing required parameter \"channel\" (set channel)")
	assert.Contains(t, out, "warning node is not connected")
}
