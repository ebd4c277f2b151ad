// timeline-mcp exposes a timeline store as MCP tools over stdio.
//
// The store lives for the lifetime of the process. Configuration comes from
// the environment (and an optional .env file), see internal/config.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/timeline/internal/config"
	"github.com/vthunder/timeline/internal/container"
	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/logging"
	"github.com/vthunder/timeline/internal/service"
	"github.com/vthunder/timeline/internal/timeline"
	"github.com/vthunder/timeline/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	svc, err := service.Open(ctx, "timeline-mcp", cfg, service.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup error: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close(ctx)

	s := server.NewMCPServer(
		"timeline-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	register(s, &handlers{store: svc.Store})

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

type handlers struct {
	store *timeline.Store
}

func register(s *server.MCPServer, h *handlers) {
	s.AddTool(insertTool(), h.handleInsert)
	s.AddTool(segmentTool("timeline_segment", "Return the entries overlapping a time range. Runs of ambiguous entries stay folded."), h.handleSegment)
	s.AddTool(segmentTool("timeline_expand", "Return the entries overlapping a time range with every run expanded to its original entries."), h.handleExpand)
	s.AddTool(reinterpretTool(), h.handleReinterpret)
	s.AddTool(addCandidateTool(), h.handleAddCandidate)
	s.AddTool(evolveTool(), h.handleEvolve)
	s.AddTool(historyTool(), h.handleHistory)
	s.AddTool(reclassifyTool(), h.handleReclassify)
}

func insertTool() mcp.Tool {
	return mcp.NewTool("timeline_insert",
		mcp.WithDescription("Insert an experience. With votes it is classified from them; without votes the configured evaluators are asked. Returns the stored entry."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("What happened"),
		),
		mcp.WithString("id",
			mcp.Description("Entry id. Generated when omitted."),
		),
		mcp.WithString("timestamp",
			mcp.Description("RFC3339 start time. Default: now"),
		),
		mcp.WithString("duration",
			mcp.Description("Go duration, e.g. 45m"),
		),
		mcp.WithObject("attributes",
			mcp.Description("String attributes such as location, coords (\"lat,lon\") or cost"),
		),
		mcp.WithArray("votes",
			mcp.Description("Evaluator votes: [{\"evaluator_id\", \"significance\", \"suggested_category\", \"confidence\", \"reasoning\"}]"),
		),
		mcp.WithObject("context",
			mcp.Description("Situational context for evaluators: {\"attributes\": {...}, \"tags\": [...]}"),
		),
	)
}

func (h *handlers) handleInsert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	content, _ := args["content"].(string)
	if content == "" {
		return mcp.NewToolResultError("content is required"), nil
	}

	exp := types.Experience{Content: content}
	exp.ID, _ = args["id"].(string)
	if ts, _ := args["timestamp"].(string); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid timestamp: %v", err)), nil
		}
		exp.Timestamp = t
	}
	if d, _ := args["duration"].(string); d != "" {
		dur, err := time.ParseDuration(d)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid duration: %v", err)), nil
		}
		exp.Duration = dur
	}
	if err := decodeArg(args, "attributes", &exp.Attributes); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var votes []types.Vote
	if err := decodeArg(args, "votes", &votes); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var (
		res timeline.InsertResult
		err error
	)
	if len(votes) > 0 {
		res, err = h.store.Insert(ctx, exp, votes)
	} else {
		var situ types.Context
		if err := decodeArg(args, "context", &situ); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err = h.store.Observe(ctx, exp, situ)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("insert failed: %v", err)), nil
	}

	out := map[string]any{
		"entry":           entry.ToRecord(res.Entry),
		"consensus_score": res.Aggregate.Score,
		"resolved":        res.Decision.Resolved,
		"version":         res.Version,
	}
	if res.RunID != "" {
		out["run_id"] = res.RunID
	}
	if len(res.Failures) > 0 {
		out["evaluator_failures"] = res.Failures
	}
	return jsonResult(out)
}

func segmentTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("start",
			mcp.Required(),
			mcp.Description("RFC3339 range start"),
		),
		mcp.WithString("end",
			mcp.Required(),
			mcp.Description("RFC3339 range end"),
		),
	)
}

func (h *handlers) handleSegment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := parseRange(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entry.ToRecords(h.store.GetSegment(start, end)))
}

func (h *handlers) handleExpand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := parseRange(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entry.ToRecords(h.store.ExpandSegment(start, end)))
}

func reinterpretTool() mcp.Tool {
	return mcp.NewTool("timeline_reinterpret",
		mcp.WithDescription("Speculate about an ambiguous entry or run under a context and append the result to its history. Returns the new history record with its delta from the previous one."),
		mcp.WithString("entry_id",
			mcp.Required(),
			mcp.Description("Ambiguous entry or run id"),
		),
		mcp.WithObject("context",
			mcp.Description("Situational context: {\"attributes\": {\"financial\": \"tight\", \"consent\": \"granted\"}, \"tags\": [...]}"),
		),
	)
}

func (h *handlers) handleReinterpret(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	id, _ := args["entry_id"].(string)
	if id == "" {
		return mcp.NewToolResultError("entry_id is required"), nil
	}
	var situ types.Context
	if err := decodeArg(args, "context", &situ); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := h.store.Reinterpret(ctx, id, situ)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reinterpret failed: %v", err)), nil
	}
	return jsonResult(rec)
}

func addCandidateTool() mcp.Tool {
	return mcp.NewTool("timeline_add_candidate",
		mcp.WithDescription("Add an interpretation to an ambiguous entry. The container keeps its top-K candidates; the lowest-ranked one is evicted when full."),
		mcp.WithString("entry_id",
			mcp.Required(),
			mcp.Description("Ambiguous entry id (entries inside runs are accepted)"),
		),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("The interpretation"),
		),
		mcp.WithString("category",
			mcp.Description("Category, e.g. travel, work, social. Default: other"),
		),
		mcp.WithNumber("confidence",
			mcp.Description("0-1, default 0.5"),
		),
		mcp.WithNumber("evidence",
			mcp.Description("Evidence strength 0-1, default 0.5"),
		),
	)
}

func (h *handlers) handleAddCandidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	id, _ := args["entry_id"].(string)
	desc, _ := args["description"].(string)
	if id == "" || desc == "" {
		return mcp.NewToolResultError("entry_id and description are required"), nil
	}
	category, _ := args["category"].(string)
	confidence := 0.5
	if c, ok := args["confidence"].(float64); ok {
		confidence = c
	}
	evidence := 0.5
	if e, ok := args["evidence"].(float64); ok {
		evidence = e
	}

	cand := container.NewCandidate(desc, types.ParseCategory(category), confidence, evidence, types.SourceManual, time.Now())
	res, err := h.store.AddCandidate(id, cand)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("add candidate failed: %v", err)), nil
	}
	return jsonResult(res)
}

func evolveTool() mcp.Tool {
	return mcp.NewTool("timeline_evolve_script",
		mcp.WithDescription("Switch the ranking script and re-rank every ambiguous entry. No candidate is removed. Builtins: "+strings.Join(container.BuiltinNames(), ", ")),
		mcp.WithString("script",
			mcp.Required(),
			mcp.Description("Script name"),
		),
	)
}

func (h *handlers) handleEvolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	name, _ := args["script"].(string)
	if name == "" {
		return mcp.NewToolResultError("script is required"), nil
	}
	res, err := h.store.EvolveRankingScriptByName(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Active script: %s\nActive changed: %d\nReordered: %d",
		res.Script, res.ChangedActiveCount, res.ReorderingCount)), nil
}

func historyTool() mcp.Tool {
	return mcp.NewTool("timeline_history",
		mcp.WithDescription("Return the reinterpretation history of an entry, oldest first"),
		mcp.WithString("entry_id",
			mcp.Required(),
			mcp.Description("Entry id"),
		),
	)
}

func (h *handlers) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	id, _ := args["entry_id"].(string)
	if id == "" {
		return mcp.NewToolResultError("entry_id is required"), nil
	}
	records, err := h.store.History(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText("No reinterpretations yet"), nil
	}
	return jsonResult(records)
}

func reclassifyTool() mcp.Tool {
	return mcp.NewTool("timeline_reclassify",
		mcp.WithDescription("Re-run consensus for an ambiguous entry. Without votes the configured evaluators are asked again. Resolves the entry in place when consensus is reached."),
		mcp.WithString("entry_id",
			mcp.Required(),
			mcp.Description("Ambiguous entry id"),
		),
		mcp.WithArray("votes",
			mcp.Description("Additional votes, same shape as timeline_insert"),
		),
		mcp.WithObject("context",
			mcp.Description("Situational context for evaluators"),
		),
	)
}

func (h *handlers) handleReclassify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	id, _ := args["entry_id"].(string)
	if id == "" {
		return mcp.NewToolResultError("entry_id is required"), nil
	}
	var votes []types.Vote
	if err := decodeArg(args, "votes", &votes); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var (
		res timeline.ReclassifyResult
		err error
	)
	if len(votes) > 0 {
		res, err = h.store.Reclassify(ctx, id, votes)
	} else {
		var situ types.Context
		if err := decodeArg(args, "context", &situ); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err = h.store.Reevaluate(ctx, id, situ)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reclassify failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"entry":           entry.ToRecord(res.Entry),
		"resolved":        res.Decision.Resolved,
		"consensus_score": res.Aggregate.Score,
		"seeded":          res.Seeded,
	})
}

func parseRange(req mcp.CallToolRequest) (time.Time, time.Time, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	s, _ := args["start"].(string)
	e, _ := args["end"].(string)
	start, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %v", err)
	}
	end, err := time.Parse(time.RFC3339, e)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %v", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end is before start")
	}
	return start, end, nil
}

// decodeArg re-decodes a loosely typed argument into dst. Missing keys
// leave dst untouched.
func decodeArg(args map[string]any, key string, dst any) error {
	v, ok := args[key]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logging.Warn("mcp", "encode result: %v", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
