package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool names.
const (
	ToolScore   = "tsrr_score"
	ToolLabeled = "tsrr_labeled"
	ToolRun     = "tsrr_run"
)

func variantOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("variant",
			mcp.Enum("combinatorial", "log-penalty"),
			mcp.Description("Metric variant (default: combinatorial)"),
		),
		mcp.WithNumber("alpha",
			mcp.Description("Tie sensitivity for the log-penalty variant, > 0 (default: 0.5)"),
		),
	}
}

func (h *Handler) tools() []server.ServerTool {
	scoreTool := mcp.NewTool(ToolScore, append([]mcp.ToolOption{
		mcp.WithDescription("Compute Tie-sensitive Reciprocal Rank for one ranked list. Returns TsRR, the RR/PRR/ta-RR baselines and a breakdown as JSON."),
		mcp.WithArray("items",
			mcp.Required(),
			mcp.Description("Ranked items in list order, each {score: number, relevant: boolean}"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"score":    map[string]any{"type": "number"},
					"relevant": map[string]any{"type": "boolean"},
				},
				"required": []string{"score"},
			}),
		),
	}, variantOptions()...)...)

	labeledTool := mcp.NewTool(ToolLabeled, append([]mcp.ToolOption{
		mcp.WithDescription("Compute TsRR for a labeled query: retrieved items are ranked by similarity and an item is relevant when its label equals the target."),
		mcp.WithString("target", mcp.Required(), mcp.Description("Label of the query")),
		mcp.WithArray("labels", mcp.Required(), mcp.WithStringItems(), mcp.Description("Labels of the retrieved items")),
		mcp.WithArray("similarities", mcp.Required(), mcp.WithNumberItems(), mcp.Description("Similarity of each retrieved item, aligned with labels")),
	}, variantOptions()...)...)

	runTool := mcp.NewTool(ToolRun, append([]mcp.ToolOption{
		mcp.WithDescription("Evaluate a batch of queries and return per-query results with the mean TsRR."),
		mcp.WithArray("queries", mcp.Description("Ranked queries, each {id, items}")),
		mcp.WithArray("labeled", mcp.Description("Labeled queries, each {id, target, labels, similarities}")),
		mcp.WithString("reduction", mcp.Enum("mean", "none"), mcp.Description("Aggregation (default: mean)")),
	}, variantOptions()...)...)

	return []server.ServerTool{
		{Tool: scoreTool, Handler: h.handleScore},
		{Tool: labeledTool, Handler: h.handleLabeled},
		{Tool: runTool, Handler: h.handleRun},
	}
}
