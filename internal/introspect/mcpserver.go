// Package introspect exposes the running feedback loop to external
// tooling: an MCP tool server for ad-hoc inspection/control and a
// WebSocket broadcaster for real-time dashboards. Grounded on
// cmd/efficient-notion-mcp/main.go's tool-registration shape
// (server.NewMCPServer/AddTool/ServeStdio), reimplemented on the real
// SDK in place of the teacher's hand-rolled internal/mcp/server.go
// JSON-RPC loop.
package introspect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/pulseloop/internal/corectx"
	"github.com/vthunder/pulseloop/internal/coretypes"
)

// NewMCPServer builds the tool server for a wired Context: inject a
// synthetic perception, read event-loop/feedback metrics, read learning
// recommendations, process a forced feedback signal for a completed
// cycle's action, and list completed cycles.
func NewMCPServer(ctx *corectx.Context) *server.MCPServer {
	s := server.NewMCPServer("pulseloop", "1.0.0", server.WithToolCapabilities(true))

	s.AddTool(injectPerceptionTool(), handleInjectPerception(ctx))
	s.AddTool(getMetricsTool(), handleGetMetrics(ctx))
	s.AddTool(getRecommendationsTool(), handleGetRecommendations(ctx))
	s.AddTool(forceFeedbackTool(), handleForceFeedback(ctx))
	s.AddTool(getCompletedCyclesTool(), handleGetCompletedCycles(ctx))

	return s
}

func injectPerceptionTool() mcp.Tool {
	return mcp.NewTool("inject_perception",
		mcp.WithDescription("Inject a synthetic perception event directly into the event loop, bypassing the monitors. Useful for exercising the cognitive stage and feedback generation without waiting for a real monitor to fire."),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Perception kind: cursor, filesystem, scheduled-time, system-state, user-activity, audio-state, visual-state, or voice"),
		),
		mcp.WithObject("data",
			mcp.Description("Arbitrary payload for the event"),
		),
		mcp.WithNumber("priority",
			mcp.Description("1 (highest) to 10 (lowest); default 5"),
		),
	)
}

func handleInjectPerception(ctx *corectx.Context) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		kind, _ := args["kind"].(string)
		if kind == "" {
			return mcp.NewToolResultError("kind is required"), nil
		}
		data, _ := args["data"].(map[string]any)
		priority := 5
		if p, ok := args["priority"].(float64); ok {
			priority = int(p)
		}

		event := coretypes.NewPerceptionEvent(coretypes.PerceptionKind(kind), "mcp_inject", data, priority)
		accepted := ctx.Core.AddEvent(event)
		return mcp.NewToolResultText(fmt.Sprintf("injected event %s (accepted=%v)", event.ID, accepted)), nil
	}
}

func getMetricsTool() mcp.Tool {
	return mcp.NewTool("get_metrics",
		mcp.WithDescription("Report event-loop throughput/latency metrics, queue status, and cycle counters."),
	)
}

func handleGetMetrics(ctx *corectx.Context) server.ToolHandlerFunc {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		opened, failed, learningUpdates := ctx.Orchestrator.Counters()
		report := map[string]any{
			"loop":    ctx.Core.Metrics(),
			"queue":   ctx.Core.QueueStatus(),
			"cycles":  map[string]any{"opened": opened, "failed": failed, "learning_updates": learningUpdates, "active": ctx.Orchestrator.ActiveCount()},
			"feedback": ctx.Feedback.Metrics(),
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func getRecommendationsTool() mcp.Tool {
	return mcp.NewTool("get_recommendations",
		mcp.WithDescription("List underperforming action kinds the feedback processor recommends reconsidering."),
		mcp.WithNumber("threshold", mcp.Description("Average-score ceiling to flag; default 0.7")),
		mcp.WithNumber("limit", mcp.Description("Maximum recommendations to return; default 10")),
	)
}

func handleGetRecommendations(ctx *corectx.Context) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		threshold := 0.7
		if t, ok := args["threshold"].(float64); ok {
			threshold = t
		}
		limit := 10
		if l, ok := args["limit"].(float64); ok {
			limit = int(l)
		}

		recs := ctx.Feedback.GetRecommendations(threshold, limit)
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func forceFeedbackTool() mcp.Tool {
	return mcp.NewTool("force_feedback",
		mcp.WithDescription("Manually process a feedback signal for a completed cycle's action, independent of the orchestrator's own generation. Useful for backfilling or testing the feedback processor in isolation."),
		mcp.WithString("action_id", mcp.Required(), mcp.Description("The action id whose cycle should receive this signal")),
		mcp.WithString("layer", mcp.Required(), mcp.Description("physiological, cognitive, emotional, or social")),
		mcp.WithNumber("magnitude", mcp.Required(), mcp.Description("0-1 signal strength")),
	)
}

func handleForceFeedback(ctx *corectx.Context) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		actionID, _ := args["action_id"].(string)
		layer, _ := args["layer"].(string)
		magnitude, _ := args["magnitude"].(float64)
		if actionID == "" || layer == "" {
			return mcp.NewToolResultError("action_id and layer are required"), nil
		}

		var cycle *coretypes.Cycle
		for _, c := range ctx.Orchestrator.CompletedCycles() {
			if c.ActionID == actionID {
				cycle = c
				break
			}
		}
		if cycle == nil {
			return mcp.NewToolResultError(fmt.Sprintf("no completed cycle found for action %s", actionID)), nil
		}

		signal := &coretypes.FeedbackSignal{
			ActionID:  actionID,
			Layer:     coretypes.FeedbackLayer(layer),
			Timing:    coretypes.TimingRetrospective,
			Magnitude: magnitude,
		}
		ctx.Feedback.ProcessFeedback(context.Background(), signal, cycle)
		return mcp.NewToolResultText(fmt.Sprintf("processed forced feedback for action %s", actionID)), nil
	}
}

func getCompletedCyclesTool() mcp.Tool {
	return mcp.NewTool("get_completed_cycles",
		mcp.WithDescription("List recently completed perception-action cycles, most recent last."),
		mcp.WithNumber("limit", mcp.Description("Maximum cycles to return; default 20")),
	)
}

func handleGetCompletedCycles(ctx *corectx.Context) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		limit := 20
		if l, ok := args["limit"].(float64); ok {
			limit = int(l)
		}

		cycles := ctx.Orchestrator.CompletedCycles()
		if len(cycles) > limit {
			cycles = cycles[len(cycles)-limit:]
		}
		data, err := json.MarshalIndent(cycles, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}
