package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lexlapax/saga/pkg/campaign"
	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/ledger"
	"github.com/lexlapax/saga/pkg/mem/ltm"
	ltmMock "github.com/lexlapax/saga/pkg/mem/ltm/adapters/mock"
	"github.com/lexlapax/saga/pkg/memory"
	"github.com/lexlapax/saga/pkg/reasoning"
	reasoningMock "github.com/lexlapax/saga/pkg/reasoning/adapters/mock"
	"github.com/lexlapax/saga/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGame = "sunken-crown"

func float(v float64) *float64 {
	return &v
}

func testDefs() ledger.ResourceDefinitions {
	return ledger.ResourceDefinitions{
		"hp": {MaxValue: 10, GameEndsWhenZero: true},
	}
}

// recordingNarrator captures every request and answers through respond.
type recordingNarrator struct {
	mu       sync.Mutex
	requests []NarratorRequest
	respond  func(req NarratorRequest) (NarratorDelta, error)
}

func (n *recordingNarrator) Narrate(_ context.Context, req NarratorRequest) (NarratorDelta, error) {
	n.mu.Lock()
	n.requests = append(n.requests, req)
	n.mu.Unlock()
	if n.respond == nil {
		return NarratorDelta{Narration: "Nothing happens."}, nil
	}
	return n.respond(req)
}

func (n *recordingNarrator) last() NarratorRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.requests[len(n.requests)-1]
}

type fixture struct {
	session  *Session
	engine   *reasoningMock.MockEngine
	store    *ltmMock.MockStore
	narrator *recordingNarrator
}

func newFixture(t *testing.T, tracker *campaign.Tracker, judge campaign.Judge, opts ...func(*Config)) *fixture {
	t.Helper()

	engine := reasoningMock.NewMockEngine()
	store := ltmMock.NewMockStore()
	memCfg := memory.DefaultConfig()
	memCfg.CausalBuffer = 2
	manager := memory.NewManager(store, engine, memCfg)

	cfg := DefaultConfig()
	cfg.Resources = testDefs()
	cfg.RetryInterval = time.Millisecond
	for _, opt := range opts {
		opt(&cfg)
	}

	narrator := &recordingNarrator{}
	session := NewSession(entity.NewContext(testGame, "hero"), manager, narrator, tracker, judge, cfg)
	t.Cleanup(func() { assert.NoError(t, session.Close()) })

	return &fixture{session: session, engine: engine, store: store, narrator: narrator}
}

func (f *fixture) records(t *testing.T) []ltm.MemoryRecord {
	t.Helper()
	records, err := f.store.List(testutil.GameContext(testGame), ltm.Filter{})
	require.NoError(t, err)
	return records
}

func TestSession_TakeActionBooksDelta(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.narrator.respond = func(req NarratorRequest) (NarratorDelta, error) {
		return NarratorDelta{
			Narration:    "A spectral hand claws at you, but you learn to slip between shadows.",
			Resources:    ledger.RuntimeResources{"hp": {MaxValue: 10, CurrentValue: float(7)}},
			NewResources: ledger.ResourceDefinitions{"mana": {MaxValue: 5}},
			LevelUp:      &ledger.LevelUpSpec{Trait: "stealth", Ability: ledger.Ability{Name: "Shadowstep"}},
			Memories:     []string{"The wreck is haunted"},
		}, nil
	}

	turn, err := f.session.TakeAction(context.Background(), "  dive into the wreck ")
	require.NoError(t, err)

	assert.Equal(t, int64(1), turn.Step)
	assert.Contains(t, turn.Narration, "spectral hand")
	assert.Equal(t, []string{"The wreck is haunted"}, turn.Remembered)
	assert.False(t, turn.GameOver)
	require.Len(t, turn.Audit, 1)
	assert.Equal(t, "mana", turn.Audit[0].ResourceKey)
	assert.Equal(t, ledger.ReasonInitialize, turn.Audit[0].Reason)
	assert.Equal(t, 5.0, turn.Audit[0].New)

	state := f.session.Snapshot()
	assert.Equal(t, int64(1), state.Step)
	assert.Equal(t, 2, state.Stats.Level)
	assert.Equal(t, 7.0, state.Stats.Resources["hp"].Current())
	assert.True(t, state.Stats.Resources["hp"].GameEndsWhenZero)
	assert.Equal(t, 5.0, state.Stats.Resources["mana"].Current())
	assert.Equal(t, 1, state.Stats.Expertise["stealth"])
	require.Len(t, state.Stats.SpellsAndAbilities, 1)
	assert.Equal(t, "Shadowstep", state.Stats.SpellsAndAbilities[0].Name)
	assert.Contains(t, state.Resources, "mana")

	require.Len(t, state.History, 1)
	assert.Equal(t, "dive into the wreck", state.History[0].Action)
	assert.Equal(t, int64(1), state.History[0].SequenceID)

	records := f.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].SequenceID)

	req := f.narrator.last()
	assert.Equal(t, "dive into the wreck", req.Action)
	assert.Equal(t, 10.0, req.Stats.Resources["hp"].Current())
}

func TestSession_RecallRespectsCausalBuffer(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.engine.AddEmbedding("Bram keeps the inn", []float64{1, 0, 0})
	f.engine.AddEmbedding("ask about Bram", []float64{1, 0, 0})
	f.narrator.respond = func(req NarratorRequest) (NarratorDelta, error) {
		if req.Step == 1 {
			return NarratorDelta{Narration: "Warm light.", Memories: []string{"Bram keeps the inn"}}, nil
		}
		return NarratorDelta{Narration: "Bram nods."}, nil
	}
	ctx := context.Background()

	_, err := f.session.TakeAction(ctx, "enter the inn")
	require.NoError(t, err)

	// step 2 may only see memories up to step 0
	turn, err := f.session.TakeAction(ctx, "ask about Bram")
	require.NoError(t, err)
	assert.Empty(t, turn.Recalled)
	assert.Empty(t, f.narrator.last().Memories)

	turn, err = f.session.TakeAction(ctx, "ask about Bram")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bram keeps the inn"}, turn.Recalled)
	assert.Equal(t, []string{"Bram keeps the inn"}, f.narrator.last().Memories)

	var queryTasks []reasoning.EmbeddingTask
	for _, call := range f.engine.GetCallHistory() {
		if call.Method == "GenerateEmbeddings" && call.Args[0].([]string)[0] == "ask about Bram" {
			queryTasks = append(queryTasks, call.Args[1].(reasoning.EmbeddingTask))
		}
	}
	assert.Contains(t, queryTasks, reasoning.TaskRetrievalQuery)
	assert.NotContains(t, queryTasks, reasoning.TaskRetrievalDocument)
}

func TestSession_NarratorFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.narrator.respond = func(req NarratorRequest) (NarratorDelta, error) {
		return NarratorDelta{}, reasoningMock.ErrMock
	}

	_, err := f.session.TakeAction(context.Background(), "look around")
	assert.ErrorIs(t, err, reasoningMock.ErrMock)

	state := f.session.Snapshot()
	assert.Equal(t, int64(0), state.Step)
	assert.Empty(t, state.History)

	_, err = f.session.TakeAction(context.Background(), "   ")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestSession_RememberIsBestEffort(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.engine = reasoningMock.NewMockEngine(reasoningMock.WithFailingTask(reasoning.TaskRetrievalDocument))
	f.session.memory = memory.NewManager(f.store, f.engine, memory.DefaultConfig())
	f.narrator.respond = func(req NarratorRequest) (NarratorDelta, error) {
		return NarratorDelta{Narration: "The tide turns.", Memories: []string{"The tide turned"}}, nil
	}

	turn, err := f.session.TakeAction(context.Background(), "wait")
	require.NoError(t, err)
	assert.Empty(t, turn.Remembered)
	assert.Equal(t, "The tide turns.", turn.Narration)
	assert.Empty(t, f.records(t))

	attempts := 0
	for _, call := range f.engine.GetCallHistory() {
		if call.Method == "GenerateEmbeddings" && call.Args[1] == reasoning.TaskRetrievalDocument {
			attempts++
		}
	}
	assert.Equal(t, 3, attempts)
}

func TestSession_SkipsKnownFacts(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.narrator.respond = func(req NarratorRequest) (NarratorDelta, error) {
		return NarratorDelta{Narration: "Gulls cry.", Memories: []string{"Gulls circle the harbor"}}, nil
	}
	ctx := context.Background()

	turn, err := f.session.TakeAction(ctx, "listen")
	require.NoError(t, err)
	assert.Len(t, turn.Remembered, 1)

	turn, err = f.session.TakeAction(ctx, "listen again")
	require.NoError(t, err)
	assert.Empty(t, turn.Remembered)
	assert.Len(t, f.records(t), 1)
}

func twoChapters() *campaign.Campaign {
	return &campaign.Campaign{Chapters: []campaign.Chapter{
		{ChapterID: 1, Title: "Harbor", PlotPoints: []campaign.PlotPoint{{PlotID: 1, Title: "Arrival"}, {PlotID: 2, Title: "Dive"}}},
		{ChapterID: 2, Title: "Reef", PlotPoints: []campaign.PlotPoint{{PlotID: 1, Title: "Coral Gate"}}},
	}}
}

func TestSession_DeviationCheckAdvancesChapter(t *testing.T) {
	cfg := campaign.DefaultConfig()
	cfg.DeviationInterval = 2
	tracker := campaign.NewTracker(twoChapters(), cfg)

	var judged []campaign.JudgeRequest
	judge := campaign.JudgeFunc(func(_ context.Context, req campaign.JudgeRequest) (campaign.Judgment, error) {
		judged = append(judged, req)
		return campaign.Judgment{
			CurrentChapterID:   "CHAPTER_ID: 1",
			CurrentPlotPointID: "PLOT_ID: 3",
			DeviationScore:     80,
			Nudge:              &campaign.Nudge{Text: "A storm rolls in."},
		}, nil
	})

	f := newFixture(t, tracker, judge)
	ctx := context.Background()

	_, err := f.session.TakeAction(ctx, "arrive at the harbor")
	require.NoError(t, err)
	assert.Contains(t, f.narrator.last().Directive, "Chapter 1 begins")
	assert.Empty(t, judged)

	turn, err := f.session.TakeAction(ctx, "swim to the reef")
	require.NoError(t, err)
	require.NotNil(t, turn.Decision)
	assert.True(t, turn.Decision.NewChapter)
	require.NotNil(t, turn.Transition)
	assert.Equal(t, 2, turn.Transition.ChapterID)
	assert.Equal(t, "A storm rolls in.", turn.Nudge)
	assert.Equal(t, campaign.Progress{ChapterID: 2, PlotPointID: 1}, turn.Progress)
	require.Len(t, judged, 1)
	assert.Len(t, judged[0].History, 2)

	_, err = f.session.TakeAction(ctx, "enter the gate")
	require.NoError(t, err)
	req := f.narrator.last()
	assert.Contains(t, req.Directive, "Chapter 2 begins")
	assert.Equal(t, "A storm rolls in.", req.Nudge)
	assert.Contains(t, req.NarrativeSeed, "Coral Gate")

	_, err = f.session.TakeAction(ctx, "look back")
	require.NoError(t, err)
	assert.Empty(t, f.narrator.last().Directive)
	assert.Empty(t, f.narrator.last().Nudge)
}

func TestSession_NoDeviationCheckInCombat(t *testing.T) {
	cfg := campaign.DefaultConfig()
	cfg.DeviationInterval = 1
	tracker := campaign.NewTracker(twoChapters(), cfg)

	calls := 0
	judge := campaign.JudgeFunc(func(context.Context, campaign.JudgeRequest) (campaign.Judgment, error) {
		calls++
		return campaign.Judgment{}, nil
	})

	f := newFixture(t, tracker, judge)
	f.narrator.respond = func(req NarratorRequest) (NarratorDelta, error) {
		return NarratorDelta{Narration: "Steel rings.", InCombat: req.Step == 1}, nil
	}

	turn, err := f.session.TakeAction(context.Background(), "draw sword")
	require.NoError(t, err)
	assert.Nil(t, turn.Decision)
	assert.Equal(t, 0, calls)

	turn, err = f.session.TakeAction(context.Background(), "sheathe sword")
	require.NoError(t, err)
	assert.NotNil(t, turn.Decision)
	assert.Equal(t, 1, calls)
}

func TestSession_JudgeFailureDoesNotFailTurn(t *testing.T) {
	cfg := campaign.DefaultConfig()
	cfg.DeviationInterval = 1
	judge := campaign.JudgeFunc(func(context.Context, campaign.JudgeRequest) (campaign.Judgment, error) {
		return campaign.Judgment{}, reasoningMock.ErrMock
	})

	f := newFixture(t, campaign.NewTracker(twoChapters(), cfg), judge)
	turn, err := f.session.TakeAction(context.Background(), "wander")
	require.NoError(t, err)
	assert.Nil(t, turn.Decision)
	assert.Equal(t, campaign.Progress{ChapterID: 1, PlotPointID: 1}, turn.Progress)
}

func TestSession_GameOver(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.narrator.respond = func(req NarratorRequest) (NarratorDelta, error) {
		return NarratorDelta{
			Narration: "The eel's bite is fatal.",
			Resources: ledger.RuntimeResources{"hp": {CurrentValue: float(0)}},
		}, nil
	}

	turn, err := f.session.TakeAction(context.Background(), "pet the eel")
	require.NoError(t, err)
	assert.True(t, turn.GameOver)
	assert.Equal(t, []string{"hp"}, turn.Depleted)
	assert.Equal(t, 10.0, f.session.Snapshot().Stats.Resources["hp"].MaxValue)

	_, err = f.session.TakeAction(context.Background(), "try again")
	assert.ErrorIs(t, err, errors.ErrGameOver)

	_, err = f.session.Rewind(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, f.session.Snapshot().GameOver)
}

func TestSession_Rest(t *testing.T) {
	f := newFixture(t, nil, nil, func(c *Config) {
		c.Resources["stamina"] = ledger.ResourceDefinition{MaxValue: 8, StartValue: float(4)}
		c.RefillPolicy = ledger.StartValueRefill
	})
	ctx := context.Background()

	entries, err := f.session.Rest(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 0)

	f.narrator.respond = func(req NarratorRequest) (NarratorDelta, error) {
		return NarratorDelta{
			Narration: "You stumble.",
			Resources: ledger.RuntimeResources{
				"hp":      {CurrentValue: float(3)},
				"stamina": {CurrentValue: float(1)},
			},
		}, nil
	}
	_, err = f.session.TakeAction(ctx, "climb the cliff")
	require.NoError(t, err)

	entries, err = f.session.Rest(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hp", entries[0].ResourceKey)
	assert.Equal(t, 3.0, entries[0].Previous)
	assert.Equal(t, 10.0, entries[0].New)
	assert.Equal(t, "stamina", entries[1].ResourceKey)
	assert.Equal(t, 4.0, entries[1].New)

	state := f.session.Snapshot()
	assert.Equal(t, 10.0, state.Stats.Resources["hp"].Current())
	assert.Equal(t, 4.0, state.Stats.Resources["stamina"].Current())
	require.Len(t, state.History, 1)
	assert.Len(t, state.History[0].Audit, 2)
}

func TestSession_RestPolicyErrorLeavesState(t *testing.T) {
	failing := ledger.RefillPolicyFunc(func(context.Context, string, ledger.ResourceDefinition) (float64, error) {
		return 0, errors.ErrLuaExecution
	})
	f := newFixture(t, nil, nil, func(c *Config) { c.RefillPolicy = failing })
	f.session.stats.Resources["hp"] = ledger.RuntimeResource{MaxValue: 10, CurrentValue: float(2), GameEndsWhenZero: true}

	_, err := f.session.Rest(context.Background())
	assert.ErrorIs(t, err, errors.ErrLuaExecution)
	assert.Equal(t, 2.0, f.session.Snapshot().Stats.Resources["hp"].Current())
}

func TestSession_Rewind(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.narrator.respond = func(req NarratorRequest) (NarratorDelta, error) {
		return NarratorDelta{
			Narration: fmt.Sprintf("Step %d.", req.Step),
			Resources: ledger.RuntimeResources{"hp": {CurrentValue: float(10 - float64(req.Step))}},
			Memories:  []string{fmt.Sprintf("fact %d", req.Step)},
		}, nil
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.session.TakeAction(ctx, fmt.Sprintf("action %d", i+1))
		require.NoError(t, err)
	}
	require.Equal(t, 7.0, f.session.Snapshot().Stats.Resources["hp"].Current())

	_, err := f.session.Rewind(ctx, 0)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	_, err = f.session.Rewind(ctx, 4)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	forgotten, err := f.session.Rewind(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, forgotten)

	state := f.session.Snapshot()
	assert.Equal(t, int64(1), state.Step)
	assert.Equal(t, 9.0, state.Stats.Resources["hp"].Current())
	require.Len(t, state.History, 1)
	assert.Equal(t, "action 1", state.History[0].Action)

	records := f.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "fact 1", records[0].Text)

	turn, err := f.session.TakeAction(ctx, "action 2 again")
	require.NoError(t, err)
	assert.Equal(t, int64(2), turn.Step)
}

func TestSession_MemoryCommands(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.session.Remember(ctx, "The crown is cursed")
	require.NoError(t, err)
	records := f.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, int64(0), records[0].SequenceID)

	n, err := f.session.Forget(ctx, "The crown is cursed")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recalled, err := f.session.Recall(ctx, "crown")
	require.NoError(t, err)
	assert.Empty(t, recalled)
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.session.TakeAction(context.Background(), "look")
	require.NoError(t, err)

	state := f.session.Snapshot()
	state.Stats.Resources["hp"] = ledger.RuntimeResource{CurrentValue: float(-5)}
	state.History[0].Action = "changed"
	state.Resources["hp"] = ledger.ResourceDefinition{}

	again := f.session.Snapshot()
	assert.Equal(t, 10.0, again.Stats.Resources["hp"].Current())
	assert.Equal(t, "look", again.History[0].Action)
	assert.Equal(t, 10.0, again.Resources["hp"].MaxValue)
}

func TestSession_Close(t *testing.T) {
	f := newFixture(t, nil, nil)
	var order []int
	f.session.closers = []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return reasoningMock.ErrMock },
	}

	err := f.session.Close()
	assert.ErrorIs(t, err, reasoningMock.ErrMock)
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, f.session.Close())
}
