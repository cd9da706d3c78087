package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/log"
)

const (
	// DefaultDeviationInterval is how many actions pass between deviation checks.
	DefaultDeviationInterval = 5

	// DefaultNudgeThreshold is the deviation score a nudge must exceed.
	DefaultNudgeThreshold = 50
)

// Config contains the tracker's tunables.
type Config struct {
	DeviationInterval int
	NudgeThreshold    int
	ChapterTag        string
	PlotTag           string
}

// DefaultConfig returns the default configuration for the tracker.
func DefaultConfig() Config {
	return Config{
		DeviationInterval: DefaultDeviationInterval,
		NudgeThreshold:    DefaultNudgeThreshold,
		ChapterTag:        DefaultChapterTag,
		PlotTag:           DefaultPlotTag,
	}
}

// Progress is the working pointer into the campaign.
type Progress struct {
	ChapterID   int `json:"chapter_id"`
	PlotPointID int `json:"plot_point_id"`
}

// Nudge is a hint from the judge for steering the story back on plan.
type Nudge struct {
	Text string `json:"text"`
}

// Judgment is what a deviation judge returns. The identifier fields are free
// text carrying tagged ids such as "CHAPTER_ID: 2".
type Judgment struct {
	CurrentChapterID   string `json:"current_chapter_id"`
	CurrentPlotPointID string `json:"current_plot_point_id"`
	DeviationScore     int    `json:"deviation_score"`
	Nudge              *Nudge `json:"nudge,omitempty"`
}

// Judge scores how far the story has drifted from the planned chapter.
type Judge interface {
	JudgeDeviation(ctx context.Context, req JudgeRequest) (Judgment, error)
}

// JudgeFunc adapts a function to Judge.
type JudgeFunc func(ctx context.Context, req JudgeRequest) (Judgment, error)

// JudgeDeviation implements Judge.
func (f JudgeFunc) JudgeDeviation(ctx context.Context, req JudgeRequest) (Judgment, error) {
	return f(ctx, req)
}

// JudgeRequest is everything a judge is shown.
type JudgeRequest struct {
	Action   string
	Campaign *Campaign
	Chapter  Chapter
	Progress Progress
	History  []string
}

// Decision is the tracker's reading of one judgment.
type Decision struct {
	NewChapter        bool
	ParsedChapterID   int
	ParsedPlotPointID int
	DeviationScore    int
	Nudge             *Nudge
	Next              Progress
}

// Transition is emitted when the story moves to another chapter.
type Transition struct {
	ChapterID     int
	Chapter       Chapter
	Directive     string
	NarrativeSeed string
	CampaignEnded bool
}

// Tracker owns the progress pointer of one session. It is not safe for
// concurrent use.
type Tracker struct {
	campaign *Campaign
	config   Config
	progress Progress
	working  Chapter
	seed     string
}

// NewTracker starts at chapter 1, plot point 1.
func NewTracker(c *Campaign, config Config) *Tracker {
	if config.DeviationInterval <= 0 {
		config.DeviationInterval = DefaultDeviationInterval
	}
	if config.ChapterTag == "" {
		config.ChapterTag = DefaultChapterTag
	}
	if config.PlotTag == "" {
		config.PlotTag = DefaultPlotTag
	}

	t := &Tracker{campaign: c, config: config}
	first := t.BuildTransition(1)
	t.apply(first)
	return t
}

// Progress returns the current pointer.
func (t *Tracker) Progress() Progress {
	return t.progress
}

// Ended reports whether the pointer is past the last authored chapter.
func (t *Tracker) Ended() bool {
	_, ok := t.campaign.Chapter(t.progress.ChapterID)
	return !ok
}

// CurrentChapter returns the working chapter, including its sentinel.
func (t *Tracker) CurrentChapter() (Chapter, bool) {
	if t.Ended() {
		return Chapter{}, false
	}
	return t.working.Clone(), true
}

// NarrativeSeed returns the serialized working chapter handed to the narrator.
func (t *Tracker) NarrativeSeed() string {
	return t.seed
}

// ShouldCheckDeviation reports whether actionCount is a deviation check step.
func ShouldCheckDeviation(actionCount, interval int, inCombat, hasPlan bool) bool {
	if interval <= 0 || actionCount <= 0 || inCombat || !hasPlan {
		return false
	}
	return actionCount%interval == 0
}

// ShouldCheck applies ShouldCheckDeviation to the tracker's state.
func (t *Tracker) ShouldCheck(actionCount int, inCombat bool) bool {
	return ShouldCheckDeviation(actionCount, t.config.DeviationInterval, inCombat, !t.Ended())
}

// Decide turns a judgment into a decision. The chapter advances when the
// parsed plot id is beyond the authored plot points of the current chapter
// or the parsed chapter id is beyond the current chapter.
func (t *Tracker) Decide(j Judgment) Decision {
	d := Decision{
		ParsedChapterID:   maxID(ExtractIDs(j.CurrentChapterID, t.config.ChapterTag)),
		ParsedPlotPointID: maxID(ExtractIDs(j.CurrentPlotPointID, t.config.PlotTag)),
		DeviationScore:    j.DeviationScore,
		Next:              t.progress,
	}
	if j.Nudge != nil && strings.TrimSpace(j.Nudge.Text) != "" && j.DeviationScore > t.config.NudgeThreshold {
		d.Nudge = &Nudge{Text: j.Nudge.Text}
	}

	authored, ok := t.campaign.Chapter(t.progress.ChapterID)
	if !ok {
		return d
	}

	d.NewChapter = d.ParsedPlotPointID > len(authored.PlotPoints) || d.ParsedChapterID > t.progress.ChapterID
	if d.NewChapter {
		d.Next = Progress{ChapterID: t.progress.ChapterID + 1, PlotPointID: 1}
	} else if d.ParsedPlotPointID > d.Next.PlotPointID {
		d.Next.PlotPointID = d.ParsedPlotPointID
	}
	return d
}

// CheckAdvance asks judge about the latest action and decides on it. Nothing
// is asked once the campaign has ended.
func (t *Tracker) CheckAdvance(ctx context.Context, judge Judge, action string, history []string) (Decision, error) {
	if t.Ended() {
		return Decision{Next: t.progress}, nil
	}
	if judge == nil {
		return Decision{}, fmt.Errorf("%w: no deviation judge configured", errors.ErrInvalidInput)
	}

	authored, _ := t.campaign.Chapter(t.progress.ChapterID)
	j, err := judge.JudgeDeviation(ctx, JudgeRequest{
		Action:   action,
		Campaign: t.campaign,
		Chapter:  authored,
		Progress: t.progress,
		History:  append([]string(nil), history...),
	})
	if err != nil {
		return Decision{}, errors.Wrap(err, "deviation judgment failed")
	}

	d := t.Decide(j)
	log.DebugContext(ctx, "Deviation judged",
		"chapter_id", t.progress.ChapterID,
		"plot_point_id", t.progress.PlotPointID,
		"parsed_chapter_id", d.ParsedChapterID,
		"parsed_plot_point_id", d.ParsedPlotPointID,
		"deviation_score", d.DeviationScore,
		"new_chapter", d.NewChapter,
	)
	return d, nil
}

// Advance applies d. It returns the transition and true when a new chapter
// began. The pointer never moves backwards.
func (t *Tracker) Advance(d Decision) (Transition, bool) {
	if d.NewChapter {
		tr := t.BuildTransition(t.progress.ChapterID + 1)
		t.apply(tr)
		log.Info("Campaign advanced", "chapter_id", tr.ChapterID, "campaign_ended", tr.CampaignEnded)
		return tr, true
	}

	if d.Next.ChapterID == t.progress.ChapterID && d.Next.PlotPointID > t.progress.PlotPointID {
		t.progress.PlotPointID = d.Next.PlotPointID
	}
	return Transition{}, false
}

// BuildTransition prepares chapter id for the narrator: the chapter gets a
// sentinel plot point copied from the first plot point of the following
// chapter, renumbered to follow its own. An unknown id yields the
// campaign-ended transition.
func (t *Tracker) BuildTransition(id int) Transition {
	authored, ok := t.campaign.Chapter(id)
	if !ok {
		log.Debug("Chapter not in campaign", "chapter_id", id, "error", errors.ErrUnresolvedChapter)
		return Transition{
			ChapterID:     id,
			CampaignEnded: true,
			Directive: "The campaign's authored story is complete. Continue in free exploration: " +
				"follow the player's lead and do not introduce new chapter goals.",
		}
	}

	working := authored.Clone()
	sentinel := PlotPoint{
		Title:       "End of campaign",
		Description: "The final chapter is complete and the campaign ends here.",
	}
	if next, ok := t.campaign.Chapter(id + 1); ok && len(next.PlotPoints) > 0 {
		sentinel = next.PlotPoints[0].Clone()
	}
	sentinel.PlotID = len(working.PlotPoints) + 1
	working.PlotPoints = append(working.PlotPoints, sentinel)

	seed, err := json.Marshal(working)
	if err != nil {
		// Chapter only holds strings and ints
		seed = []byte("{}")
	}

	directive := fmt.Sprintf("Chapter %d begins", working.ChapterID)
	if working.Title != "" {
		directive += ": " + working.Title
	}
	directive += "."
	if first, ok := working.PlotPoint(1); ok && first.PlotID != sentinel.PlotID {
		directive += fmt.Sprintf(" Steer the story toward plot point 1, %q.", first.Title)
	}
	directive += fmt.Sprintf(" Reaching plot point %d, %q, ends the chapter.", sentinel.PlotID, sentinel.Title)

	return Transition{
		ChapterID:     id,
		Chapter:       working,
		Directive:     directive,
		NarrativeSeed: string(seed),
	}
}

// Notes returns the game-master notes for a plot pointer in the current chapter.
func (t *Tracker) Notes(pointer string) []string {
	chapter, ok := t.CurrentChapter()
	if !ok {
		return []string{}
	}
	return NotesForPlotPoint(chapter, pointer, t.config.PlotTag)
}

// NotesForPlotPoint resolves pointer, either tagged text or a bare integer,
// to the notes of that plot point. Unresolved pointers give an empty list.
func NotesForPlotPoint(chapter Chapter, pointer, tag string) []string {
	id := maxID(ExtractIDs(pointer, tag))
	if id == 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(pointer)); err == nil {
			id = n
		}
	}

	p, ok := chapter.PlotPoint(id)
	if !ok || p.GameMasterNotes == nil {
		return []string{}
	}
	return p.GameMasterNotes
}

func (t *Tracker) apply(tr Transition) {
	if tr.ChapterID < t.progress.ChapterID {
		return
	}
	t.progress = Progress{ChapterID: tr.ChapterID, PlotPointID: 1}
	t.working = tr.Chapter
	t.seed = tr.NarrativeSeed
}
