package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perspective-engine/backend/internal/logging"
	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/internal/workflow"
	"perspective-engine/backend/pkg/models"
)

func newTestServer(t *testing.T, handler workflow.Handler) (*Server, *repository.MemoryStore) {
	t.Helper()
	logger := logging.Discard()
	store := repository.NewMemoryStore()
	runner := workflow.NewRunner(store, workflow.NewExecutor(store, logger), handler, logger)
	registry := workflow.NewRegistry(store, store, runner, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})
	poller := workflow.NewPoller(registry, 40, 2*time.Millisecond)
	return NewServer(registry, poller, store, "user_1"), store
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestAnalyzeDecision(t *testing.T) {
	s, _ := newTestServer(t, func(ctx context.Context, run *workflow.Run) (string, error) {
		return "analysis for " + run.Input().UserID + ": " + run.Input().Prompt, nil
	})

	res, err := s.handleAnalyze(context.Background(), callRequest(map[string]interface{}{"prompt": "Rent or buy?"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "analysis for user_1: Rent or buy?", resultText(t, res))

	// user_id is not a tool argument; it cannot switch identity
	res, err = s.handleAnalyze(context.Background(), callRequest(map[string]interface{}{"prompt": "Rent or buy?", "user_id": "ada"}))
	require.NoError(t, err)
	assert.Equal(t, "analysis for user_1: Rent or buy?", resultText(t, res))
}

func TestAnalyzeDecision_Failures(t *testing.T) {
	s, _ := newTestServer(t, func(context.Context, *workflow.Run) (string, error) {
		return "", errors.New("model exploded")
	})

	res, err := s.handleAnalyze(context.Background(), callRequest(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleAnalyze(context.Background(), callRequest(map[string]interface{}{"prompt": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.NotContains(t, resultText(t, res), "exploded")
}

func TestDecisionHistory(t *testing.T) {
	s, store := newTestServer(t, func(context.Context, *workflow.Run) (string, error) { return "", nil })
	require.NoError(t, store.SaveDecision(context.Background(), &models.DecisionEntry{UserID: "user_1", Prompt: "p", Analysis: "a"}))

	res, err := s.handleHistory(context.Background(), callRequest(nil))
	require.NoError(t, err)

	var entries []models.DecisionEntry
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "p", entries[0].Prompt)
}

func TestWorkflowStatus(t *testing.T) {
	s, _ := newTestServer(t, func(context.Context, *workflow.Run) (string, error) { return "done", nil })

	res, err := s.handleStatus(context.Background(), callRequest(map[string]interface{}{"id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	id, err := s.instances.Create(context.Background(), models.AnalysisInput{Prompt: "p", UserID: "user_1"})
	require.NoError(t, err)
	_, err = s.poller.Await(context.Background(), id)
	require.NoError(t, err)

	res, err = s.handleStatus(context.Background(), callRequest(map[string]interface{}{"id": id}))
	require.NoError(t, err)
	var inst models.Instance
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &inst))
	assert.Equal(t, models.StatusTerminated, inst.Status)
	assert.Equal(t, "done", inst.Output)
}

func TestTools_OtherUsersAreHidden(t *testing.T) {
	s, store := newTestServer(t, func(context.Context, *workflow.Run) (string, error) { return "private", nil })
	ctx := context.Background()
	require.NoError(t, store.SaveDecision(ctx, &models.DecisionEntry{UserID: "alice@corp.example", Prompt: "Quit secretly?", Analysis: "private"}))

	res, err := s.handleHistory(ctx, callRequest(map[string]interface{}{"user_id": "alice@corp.example"}))
	require.NoError(t, err)
	var entries []models.DecisionEntry
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &entries))
	assert.Empty(t, entries)

	id, err := s.instances.Create(ctx, models.AnalysisInput{Prompt: "Quit secretly?", UserID: "alice@corp.example"})
	require.NoError(t, err)
	_, err = s.poller.Await(ctx, id)
	require.NoError(t, err)

	res, err = s.handleStatus(ctx, callRequest(map[string]interface{}{"id": id}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Unknown instance: "+id, resultText(t, res))
}
