// Package judge implements the campaign deviation judge on top of a
// reasoning engine.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lexlapax/saga/pkg/campaign"
	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/reasoning"
)

// Config contains configuration options for the LLM judge
type Config struct {
	// Temperature sets the temperature for the judgment call
	Temperature float64

	// MaxTokens sets the maximum tokens for the judgment response
	MaxTokens int

	// Model specifies the model to use; empty means the adapter's default
	Model string

	// HistoryLimit bounds how many recent history entries are shown
	HistoryLimit int

	ChapterTag string
	PlotTag    string
}

// DefaultConfig returns the default configuration for the judge.
func DefaultConfig() Config {
	return Config{
		Temperature:  0.2,
		MaxTokens:    512,
		HistoryLimit: 20,
		ChapterTag:   campaign.DefaultChapterTag,
		PlotTag:      campaign.DefaultPlotTag,
	}
}

// LLMJudge asks a reasoning engine how far the story has drifted.
type LLMJudge struct {
	engine reasoning.Engine
	config Config
}

// New creates an LLMJudge.
func New(engine reasoning.Engine, config Config) *LLMJudge {
	if config.ChapterTag == "" {
		config.ChapterTag = campaign.DefaultChapterTag
	}
	if config.PlotTag == "" {
		config.PlotTag = campaign.DefaultPlotTag
	}
	return &LLMJudge{engine: engine, config: config}
}

// JudgeDeviation implements campaign.Judge.
func (j *LLMJudge) JudgeDeviation(ctx context.Context, req campaign.JudgeRequest) (campaign.Judgment, error) {
	prompt, err := j.formatPrompt(req)
	if err != nil {
		return campaign.Judgment{}, err
	}

	opts := []reasoning.Option{
		reasoning.WithTemperature(j.config.Temperature),
		reasoning.WithMaxTokens(j.config.MaxTokens),
		reasoning.WithJSONResponse(),
	}
	if j.config.Model != "" {
		opts = append(opts, reasoning.WithModel(j.config.Model))
	}

	log.DebugContext(ctx, "Calling reasoning engine for deviation judgment",
		"chapter_id", req.Progress.ChapterID,
		"plot_point_id", req.Progress.PlotPointID,
	)
	response, err := j.engine.Process(ctx, prompt, opts...)
	if err != nil {
		return campaign.Judgment{}, fmt.Errorf("reasoning engine judgment failed: %w", err)
	}

	return ParseJudgment(response, j.config.ChapterTag, j.config.PlotTag)
}

func (j *LLMJudge) formatPrompt(req campaign.JudgeRequest) (string, error) {
	chapterJSON, err := json.MarshalIndent(req.Chapter, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode chapter: %w", err)
	}

	history := req.History
	if j.config.HistoryLimit > 0 && len(history) > j.config.HistoryLimit {
		history = history[len(history)-j.config.HistoryLimit:]
	}
	var sb strings.Builder
	for i, h := range history {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, h))
	}
	if sb.Len() == 0 {
		sb.WriteString("(no history yet)\n")
	}

	return fmt.Sprintf(`
You are the game master's assistant judging whether a role-playing story follows its planned chapter.

Planned chapter (plot points in order):
%s

The story is believed to be at chapter %d, plot point %d.

Story so far:
%s
Latest player action:
%s

Decide which chapter and plot point the story is at now. If the story has
moved past the last plot point of the chapter, answer with the plot point
after it.

Format your response as a JSON object with:
- "current_chapter_id": the chapter written as "%s<number>"
- "current_plot_point_id": the plot point written as "%s<number>"
- "deviation_score": an integer from 0 (on plan) to 100 (completely off plan)
- "nudge": {"text": "..."} with an in-world event steering the story back, or null

Provide valid JSON only, with no preamble or additional text.
`, chapterJSON, req.Progress.ChapterID, req.Progress.PlotPointID, sb.String(), req.Action,
		j.config.ChapterTag, j.config.PlotTag), nil
}

// judgmentResponse is the wire form; ids may come back as numbers or text.
type judgmentResponse struct {
	CurrentChapterID   json.RawMessage `json:"current_chapter_id"`
	CurrentPlotPointID json.RawMessage `json:"current_plot_point_id"`
	DeviationScore     float64         `json:"deviation_score"`
	Nudge              *campaign.Nudge `json:"nudge"`
}

// ParseJudgment decodes a judge response. Code fences around the JSON are
// ignored, bare numeric ids are tagged and the score is clamped to 0..100.
func ParseJudgment(response, chapterTag, plotTag string) (campaign.Judgment, error) {
	body := reasoning.JSONBody(response)
	if body == "" {
		return campaign.Judgment{}, fmt.Errorf("%w: empty response from reasoning engine", errors.ErrInvalidInput)
	}

	var resp judgmentResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		log.Warn("Failed to parse judgment from JSON response",
			"error", err,
			"response", truncateString(response, 100))
		return campaign.Judgment{}, fmt.Errorf("%w: failed to parse judgment: %v", errors.ErrInvalidInput, err)
	}

	score := int(math.Min(math.Max(resp.DeviationScore, 0), 100))

	out := campaign.Judgment{
		CurrentChapterID:   tagged(resp.CurrentChapterID, chapterTag),
		CurrentPlotPointID: tagged(resp.CurrentPlotPointID, plotTag),
		DeviationScore:     score,
	}
	if resp.Nudge != nil && strings.TrimSpace(resp.Nudge.Text) != "" {
		out.Nudge = resp.Nudge
	}
	return out, nil
}

// tagged renders a raw JSON id as text; a bare integer gets the tag prefix so
// that the tracker's parser can read it.
func tagged(raw json.RawMessage, tag string) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.Atoi(n.String()); err == nil {
			return tag + strconv.Itoa(i)
		}
		return n.String()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return tag + strconv.Itoa(i)
	}
	return s
}

// truncateString truncates a string to the specified length and adds "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
