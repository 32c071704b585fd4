// Package mcp exposes pipeline runs and reports as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/duynguyendang/kbfuse/pkg/config"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/report"
	"github.com/duynguyendang/kbfuse/pkg/service"
)

// MCPServer wraps the pipeline service to expose it via MCP.
type MCPServer struct {
	service *service.PipelineService
}

// NewServer builds the MCP server with every resource and tool registered.
func NewServer(svc *service.PipelineService, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"kbfuse",
		version,
		server.WithResourceCapabilities(true, true),
		server.WithLogging(),
	)
	ms := &MCPServer{service: svc}

	// --- Resources ---

	s.AddResource(
		mcp.NewResource(
			"kbfuse://reports",
			"Report Kinds",
			mcp.WithResourceDescription("Reports that can be computed for a finished processor"),
			mcp.WithMIMEType("text/markdown"),
		),
		ms.handleReportKinds,
	)

	s.AddResource(
		mcp.NewResource(
			"kbfuse://processors",
			"Processor Types",
			mcp.WithResourceDescription("Processor types available to plans"),
			mcp.WithMIMEType("application/json"),
		),
		ms.handleProcessorTypes,
	)

	// --- Tools ---

	s.AddTool(
		mcp.NewTool(
			"list_runs",
			mcp.WithDescription("List pipeline runs, newest first, with their status."),
		),
		ms.handleListRuns,
	)

	s.AddTool(
		mcp.NewTool(
			"run_status",
			mcp.WithDescription("Get the status of a run: state, progress and failure cause of every processor."),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run ID")),
		),
		ms.handleRunStatus,
	)

	s.AddTool(
		mcp.NewTool(
			"run_report",
			mcp.WithDescription("Compute a report for a succeeded processor of a run."),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run ID")),
			mcp.WithString("processor", mcp.Required(), mcp.Description("The processor ID")),
			mcp.WithString("kind", mcp.Required(), mcp.Description("Report kind, e.g. mapping-coverage")),
			mcp.WithString("category", mcp.Description("Limit the report to one category")),
		),
		ms.handleRunReport,
	)

	s.AddTool(
		mcp.NewTool(
			"validate_plan",
			mcp.WithDescription("Validate a YAML or JSON plan without running it."),
			mcp.WithString("plan", mcp.Required(), mcp.Description("The plan text")),
		),
		ms.handleValidatePlan,
	)

	s.AddTool(
		mcp.NewTool(
			"start_run",
			mcp.WithDescription("Start a run of a YAML or JSON plan."),
			mcp.WithString("plan", mcp.Required(), mcp.Description("The plan text")),
			mcp.WithBoolean("wait", mcp.Description("Wait for the run to finish (default false)")),
		),
		ms.handleStartRun,
	)

	s.AddTool(
		mcp.NewTool(
			"cancel_run",
			mcp.WithDescription("Cancel an executing run."),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run ID")),
		),
		ms.handleCancelRun,
	)

	return s
}

// Run starts the MCP server on Stdio.
func Run(ctx context.Context, svc *service.PipelineService, version string) error {
	slog.Info("Starting MCP server on Stdio")
	return server.ServeStdio(NewServer(svc, version))
}

func (ms *MCPServer) handleReportKinds(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	var sb strings.Builder
	sb.WriteString("# Reports\n\n")
	for _, k := range report.Kinds() {
		fmt.Fprintf(&sb, "- '%s': %s\n", k, k.Describe())
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "text/markdown",
			Text:     sb.String(),
		},
	}, nil
}

func (ms *MCPServer) handleProcessorTypes(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	type info struct {
		Name        string `json:"name"`
		Kind        string `json:"kind"`
		Description string `json:"description"`
	}
	var out []info
	for _, t := range ms.service.ProcessorTypes() {
		out = append(out, info{Name: t.Name, Kind: t.Kind.String(), Description: t.Description})
	}
	jsonBytes, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal processor types: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (ms *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := ms.service.ListRuns()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("No runs found."), nil
	}

	var formatted []string
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-9s  %s", r.ID, r.Status, r.Created.Format("2006-01-02 15:04:05"))
		if r.Name != "" {
			line += "  " + r.Name
		}
		formatted = append(formatted, line)
	}
	return mcp.NewToolResultText(strings.Join(formatted, "\n")), nil
}

func (ms *MCPServer) handleRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	runID, ok := args["run_id"].(string)
	if !ok {
		return mcp.NewToolResultError("run_id argument required"), nil
	}
	rec, err := ms.service.GetRun(runID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rec)
}

func (ms *MCPServer) handleRunReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	runID, _ := args["run_id"].(string)
	proc, _ := args["processor"].(string)
	kindName, _ := args["kind"].(string)
	category, _ := args["category"].(string)
	if runID == "" || proc == "" || kindName == "" {
		return mcp.NewToolResultError("run_id, processor and kind arguments required"), nil
	}

	kind, err := report.ParseKind(kindName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := ms.service.Report(ctx, runID, processor.ID(proc), kind, category)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func planArgument(request mcp.CallToolRequest) (*config.Plan, error) {
	text, ok := request.GetArguments()["plan"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("plan argument required")
	}
	return config.ParsePlan([]byte(text))
}

func (ms *MCPServer) handleValidatePlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := planArgument(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	plan, err := ms.service.ValidatePlan(p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	order := make([]string, 0, len(plan.Order()))
	for _, id := range plan.Order() {
		order = append(order, string(id))
	}
	return mcp.NewToolResultText("Plan is valid. Execution order: " + strings.Join(order, ", ")), nil
}

func (ms *MCPServer) handleStartRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := planArgument(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	wait, _ := request.GetArguments()["wait"].(bool)

	start := ms.service.StartRun
	if wait {
		start = ms.service.RunPlan
	}
	rec, err := start(ctx, p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rec)
}

func (ms *MCPServer) handleCancelRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, ok := request.GetArguments()["run_id"].(string)
	if !ok {
		return mcp.NewToolResultError("run_id argument required"), nil
	}
	if err := ms.service.CancelRun(runID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Run " + runID + " cancelled."), nil
}
