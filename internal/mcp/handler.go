package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ricesearch/tsrr/internal/evaluation"
	"github.com/ricesearch/tsrr/internal/pkg/logger"
)

// Handler implements the TsRR tools on top of an evaluator.
type Handler struct {
	evaluator *evaluation.Evaluator
	log       *logger.Logger
}

// NewHandler creates a tool handler. Per-call variant and alpha override
// the evaluator's settings.
func NewHandler(e *evaluation.Evaluator, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{evaluator: e, log: log}
}

type variantArgs struct {
	Variant string   `json:"variant,omitempty"`
	Alpha   *float64 `json:"alpha,omitempty"`
}

type scoreArgs struct {
	Items []evaluation.RankedItem `json:"items"`
	variantArgs
}

type labeledArgs struct {
	Target       string    `json:"target"`
	Labels       []string  `json:"labels"`
	Similarities []float64 `json:"similarities"`
	variantArgs
}

type runArgs struct {
	Queries   []evaluation.Query        `json:"queries,omitempty"`
	Labeled   []evaluation.LabeledQuery `json:"labeled,omitempty"`
	Reduction string                    `json:"reduction,omitempty"`
	variantArgs
}

// handleScore scores one ranked list.
func (h *Handler) handleScore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args scoreArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return h.scoreQuery(ctx, evaluation.Query{Items: args.Items}, args.variantArgs)
}

// handleLabeled scores one labeled query.
func (h *Handler) handleLabeled(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args labeledArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	q, err := evaluation.LabeledQuery{
		Target:       args.Target,
		Labels:       args.Labels,
		Similarities: args.Similarities,
	}.Query()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return h.scoreQuery(ctx, q, args.variantArgs)
}

// handleRun evaluates a batch of queries.
func (h *Handler) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args runArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	run := evaluation.Run{Queries: args.Queries, Labeled: args.Labeled}
	if run.Len() == 0 {
		return mcp.NewToolResultError("run contains no queries"), nil
	}

	e, err := h.evaluatorFor(args.variantArgs, args.Reduction)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	report, err := e.EvaluateRun(ctx, run)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report)
}

func (h *Handler) scoreQuery(ctx context.Context, q evaluation.Query, v variantArgs) (*mcp.CallToolResult, error) {
	e, err := h.evaluatorFor(v, "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := e.EvaluateQuery(ctx, q)
	if err != nil {
		h.log.WithError(err).Debug("mcp score rejected")
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(evaluation.ScoreResponse{
		Score:     res.TsRR,
		RR:        res.RR,
		PRR:       res.PRR,
		TaRR:      res.TaRR,
		Breakdown: res.Breakdown,
	})
}

func (h *Handler) evaluatorFor(v variantArgs, reduction string) (*evaluation.Evaluator, error) {
	base := h.evaluator.Settings()
	s := base
	if v.Variant != "" {
		s.Variant = evaluation.Variant(v.Variant)
	}
	if v.Alpha != nil {
		s.Alpha = *v.Alpha
	}
	if reduction != "" {
		s.Reduction = evaluation.Reduction(reduction)
	}
	if s == base {
		return h.evaluator, nil
	}
	return h.evaluator.WithSettings(s)
}

// bindArgs decodes tool arguments through JSON so nested items keep their
// struct tags.
func bindArgs(req mcp.CallToolRequest, v any) error {
	data, err := json.Marshal(req.GetArguments())
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON marshal failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
