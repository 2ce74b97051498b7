package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/danielpatrickdp/edge-companion/internal/companion"
	"github.com/danielpatrickdp/edge-companion/internal/consolidation"
	"github.com/danielpatrickdp/edge-companion/internal/diary"
	"github.com/danielpatrickdp/edge-companion/internal/learning"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *companion.Service
}

// NewHandlers creates handlers bound to svc.
func NewHandlers(svc *companion.Service) *Handlers {
	return &Handlers{svc: svc}
}

// #region requests

type ReactRequest struct {
	Learn   bool `json:"learn,omitempty"`
	DelayMS *int `json:"delay_ms,omitempty"`
}

type ConsolidateRequest struct {
	Force bool `json:"force,omitempty"`
}

type DiaryRequest struct {
	Date   string `json:"date,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Format string `json:"format,omitempty"`
}

type ProfileRequest struct {
	History int `json:"history,omitempty"`
}

// #endregion requests

// #region outputs

type ReactionOutput struct {
	Action     string       `json:"action"`
	Intensity  float64      `json:"intensity"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
	Engine     string       `json:"engine"`
	Text       string       `json:"text"`
	At         time.Time    `json:"at"`
	Learning   *LearnOutput `json:"learning,omitempty"`
}

type LearnOutput struct {
	Logged     bool    `json:"logged"`
	Applied    bool    `json:"applied"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

type ConsolidateOutput struct {
	Outcome       string `json:"outcome"`
	Skipped       string `json:"skipped,omitempty"`
	RunID         string `json:"run_id,omitempty"`
	LogsRead      int    `json:"logs_read"`
	LogsUsed      int    `json:"logs_used"`
	VersionBefore int64  `json:"version_before,omitempty"`
	VersionAfter  int64  `json:"version_after,omitempty"`
	Diary         string `json:"diary,omitempty"`
	Error         string `json:"error,omitempty"`
}

type DiaryOutput struct {
	Date              string `json:"date"`
	TotalInteractions int    `json:"total_interactions"`
	TopAction         string `json:"top_action,omitempty"`
	WorstAction       string `json:"worst_action,omitempty"`
	Text              string `json:"text"`
}

type ArmOutput struct {
	Action      string  `json:"action"`
	Alpha       float64 `json:"alpha"`
	Beta        float64 `json:"beta"`
	Expectation float64 `json:"expectation"`
}

type ProfileOutput struct {
	UserID              string                 `json:"user_id"`
	Version             int64                  `json:"version"`
	TotalInteractions   int64                  `json:"total_interactions"`
	TotalConsolidations int64                  `json:"total_consolidations"`
	Arms                []ArmOutput            `json:"arms"`
	History             []state.ProfileVersion `json:"history,omitempty"`
}

// #endregion outputs

// #region handlers

// HandleReact chooses a reaction, optionally waiting to learn from it.
func (h *Handlers) HandleReact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReactRequest](req)
	if err != nil {
		return errorResult("INVALID_REQUEST", err.Error()), nil
	}
	if !input.Learn {
		r, err := h.svc.React(ctx)
		if err != nil {
			return internalError(), nil
		}
		return successResult(NewReactionOutput(r, nil))
	}

	delay := time.Second
	if input.DelayMS != nil {
		if *input.DelayMS < 0 {
			return errorResult("INVALID_REQUEST", "delay_ms must be >= 0"), nil
		}
		delay = time.Duration(*input.DelayMS) * time.Millisecond
	}
	r, results, err := h.svc.ReactAndLearn(ctx, delay)
	if err != nil {
		return internalError(), nil
	}
	res, ok := <-results
	if !ok {
		return errorResult("CANCELLED", "request ended before the response was observed"), nil
	}
	out := NewLearnOutput(res)
	return successResult(NewReactionOutput(r, &out))
}

// HandleLearn learns from the last reaction.
func (h *Handlers) HandleLearn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.svc.LearnFromLastReaction(ctx)
	if errors.Is(err, companion.ErrNoReaction) {
		return errorResult("NO_REACTION", "call companion_react first"), nil
	}
	if err != nil {
		return internalError(), nil
	}
	return successResult(NewLearnOutput(res))
}

// HandleConsolidate runs one consolidation.
func (h *Handlers) HandleConsolidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ConsolidateRequest](req)
	if err != nil {
		return errorResult("INVALID_REQUEST", err.Error()), nil
	}

	if input.Force {
		return successResult(NewConsolidateOutput(h.svc.ConsolidateUnguarded(ctx)))
	}
	rep, skipped := h.svc.Consolidate(ctx)
	if skipped != "" {
		return successResult(ConsolidateOutput{Outcome: "skipped", Skipped: skipped})
	}
	return successResult(NewConsolidateOutput(rep))
}

// HandleDiary reads diary entries.
func (h *Handlers) HandleDiary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DiaryRequest](req)
	if err != nil {
		return errorResult("INVALID_REQUEST", err.Error()), nil
	}
	switch input.Format {
	case "", "text", "markdown", "html":
	default:
		return errorResult("INVALID_REQUEST", fmt.Sprintf("unknown format %q", input.Format)), nil
	}

	var entries []state.DiaryEntry
	if input.Date != "" {
		if _, err := time.Parse(state.DiaryDateLayout, input.Date); err != nil {
			return errorResult("INVALID_REQUEST", "date must be YYYY-MM-DD"), nil
		}
		e, err := h.svc.DiaryByDate(ctx, input.Date)
		if errors.Is(err, state.ErrNotFound) {
			return errorResult("NOT_FOUND", "no diary entry for "+input.Date), nil
		}
		if err != nil {
			return internalError(), nil
		}
		entries = []state.DiaryEntry{e}
	} else {
		limit := input.Limit
		if limit <= 0 {
			limit = 7
		}
		entries, err = h.svc.Diary(ctx, limit)
		if err != nil {
			return internalError(), nil
		}
	}

	out := make([]DiaryOutput, 0, len(entries))
	for _, e := range entries {
		text := e.DiaryText
		switch input.Format {
		case "markdown":
			text = diary.Markdown(e)
		case "html":
			if text, err = diary.RenderHTML(e); err != nil {
				return internalError(), nil
			}
		}
		out = append(out, DiaryOutput{
			Date:              e.Date,
			TotalInteractions: e.TotalInteractions,
			TopAction:         e.TopAction,
			WorstAction:       e.WorstAction,
			Text:              text,
		})
	}
	return successResult(out)
}

// HandleProfile reports the current profile.
func (h *Handlers) HandleProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProfileRequest](req)
	if err != nil {
		return errorResult("INVALID_REQUEST", err.Error()), nil
	}
	p, err := h.svc.Profile(ctx)
	if err != nil {
		return internalError(), nil
	}
	out := NewProfileOutput(p)
	if input.History > 0 {
		out.History, err = h.svc.Store().ListProfileVersions(ctx, h.svc.UserID(), input.History)
		if err != nil {
			return internalError(), nil
		}
	}
	return successResult(out)
}

// #endregion handlers

// #region helpers

// NewProfileOutput lists every arm of p with its expectation.
func NewProfileOutput(p state.UserProfile) ProfileOutput {
	out := ProfileOutput{
		UserID:              p.UserID,
		Version:             p.Version,
		TotalInteractions:   p.TotalInteractions,
		TotalConsolidations: p.TotalConsolidations,
	}
	for i := 0; i < state.NumActions; i++ {
		out.Arms = append(out.Arms, ArmOutput{
			Action:      state.Action(i).String(),
			Alpha:       p.Alpha[i],
			Beta:        p.Beta[i],
			Expectation: p.Expectation(i),
		})
	}
	return out
}

func NewReactionOutput(r companion.Reaction, learn *LearnOutput) ReactionOutput {
	return ReactionOutput{
		Action:     r.Action.String(),
		Intensity:  r.Intensity,
		Confidence: r.Confidence,
		Reasoning:  r.Reasoning,
		Engine:     r.Engine,
		Text:       r.Text,
		At:         r.At,
		Learning:   learn,
	}
}

func NewLearnOutput(res learning.CycleResult) LearnOutput {
	out := LearnOutput{
		Logged:     res.Logged,
		Applied:    res.Applied,
		Score:      res.Signal.Score,
		Confidence: res.Signal.Confidence,
	}
	if res.Err != nil {
		out.Error = "storage error"
	}
	return out
}

func NewConsolidateOutput(rep consolidation.Report) ConsolidateOutput {
	out := ConsolidateOutput{
		Outcome:       string(rep.Outcome),
		RunID:         rep.RunID,
		LogsRead:      rep.LogsRead,
		LogsUsed:      rep.LogsUsed,
		VersionBefore: rep.VersionBefore,
		VersionAfter:  rep.VersionAfter,
	}
	if rep.Diary != nil {
		out.Diary = rep.Diary.DiaryText
	}
	if rep.Err != nil {
		out.Error = "consolidation failed, will retry"
	}
	return out
}

// errorResult creates an MCP error result. Internal details are never exposed.
func errorResult(code, message string) *mcp.CallToolResult {
	content, _ := json.Marshal(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

func internalError() *mcp.CallToolResult {
	return errorResult("INTERNAL", "an internal error occurred")
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

// #endregion helpers
