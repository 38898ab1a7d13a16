package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/internal/workflow"
	"perspective-engine/backend/pkg/models"
)

// Instances creates and reports workflow instances.
type Instances interface {
	Create(ctx context.Context, input models.AnalysisInput) (string, error)
	Status(ctx context.Context, id string) (*models.Instance, error)
}

type Server struct {
	mcpServer  *server.MCPServer
	instances  Instances
	poller     *workflow.Poller
	history    repository.DecisionStore
	demoUserID string
}

// NewServer exposes the decision workflow as MCP tools. The MCP endpoint is
// unauthenticated, so every tool acts as demoUserID.
func NewServer(instances Instances, poller *workflow.Poller, history repository.DecisionStore, demoUserID string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Perspective Engine",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		instances:  instances,
		poller:     poller,
		history:    history,
		demoUserID: demoUserID,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"analyze_decision",
			mcp.WithDescription("Analyze a decision against the user's recent history and wait for the result"),
			mcp.WithString("prompt", mcp.Required(), mcp.Description("The decision to analyze")),
		),
		s.handleAnalyze,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"decision_history",
			mcp.WithDescription("List past decisions, newest first"),
		),
		s.handleHistory,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_status",
			mcp.WithDescription("Report the status of a workflow instance"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The instance ID")),
		),
		s.handleStatus,
	)
}

func (s *Server) handleAnalyze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	prompt, ok := args["prompt"].(string)
	if !ok || prompt == "" {
		return mcp.NewToolResultError("Missing required parameter: prompt"), nil
	}

	id, err := s.instances.Create(ctx, models.AnalysisInput{Prompt: prompt, UserID: s.demoUserID})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start analysis: %v", err)), nil
	}

	analysis, err := s.poller.Await(ctx, id)
	switch {
	case errors.Is(err, workflow.ErrPollTimeout):
		return mcp.NewToolResultError(fmt.Sprintf("Analysis %s is still running; check workflow_status later", id)), nil
	case errors.Is(err, workflow.ErrWorkflowFailed):
		return mcp.NewToolResultError("Internal Workflow Error."), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze: %v", err)), nil
	}

	return mcp.NewToolResultText(analysis), nil
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.history.ListDecisions(ctx, s.demoUserID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list history: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(entries)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	inst, err := s.instances.Status(ctx, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && inst.Input.UserID != s.demoUserID) {
		return mcp.NewToolResultError("Unknown instance: " + id), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get status: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(inst)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
