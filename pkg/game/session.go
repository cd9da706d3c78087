// Package game runs one character's play session: every player action is
// recalled against memory, narrated, booked in the ledger and checked
// against the campaign plan.
package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/lexlapax/saga/pkg/campaign"
	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/ledger"
	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/memory"
)

// Config contains configuration options for a session.
type Config struct {
	// Resources are the character's starting resource definitions
	Resources ledger.ResourceDefinitions

	// RefillPolicy sets resting targets; nil refills to the max value
	RefillPolicy ledger.RefillPolicy

	// RememberRetries bounds the attempts of one memory write
	RememberRetries int

	// RetryInterval is the first wait between memory write attempts
	RetryInterval time.Duration
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		RefillPolicy:    ledger.MaxValueRefill,
		RememberRetries: 3,
		RetryInterval:   200 * time.Millisecond,
	}
}

// Turn is the outcome of one player action.
type Turn struct {
	Step       int64
	Narration  string
	Recalled   []string
	Remembered []string
	Audit      []ledger.AuditEntry
	Decision   *campaign.Decision
	Transition *campaign.Transition
	Nudge      string
	Progress   campaign.Progress
	GameOver   bool
	Depleted   []string
}

// State is a value copy of a session.
type State struct {
	GameID        entity.GameID              `json:"game_id"`
	CharacterID   string                     `json:"character_id"`
	Step          int64                      `json:"step"`
	Stats         ledger.CharacterStats      `json:"stats"`
	Resources     ledger.ResourceDefinitions `json:"resources"`
	Progress      campaign.Progress          `json:"progress"`
	CampaignEnded bool                       `json:"campaign_ended"`
	InCombat      bool                       `json:"in_combat"`
	GameOver      bool                       `json:"game_over"`
	NarrativeSeed string                     `json:"narrative_seed,omitempty"`
	History       []ledger.ActionRecord      `json:"history"`
}

type checkpoint struct {
	stats    ledger.CharacterStats
	defs     ledger.ResourceDefinitions
	inCombat bool
}

// Session is one character's game. Its methods are safe for concurrent use;
// actions are applied one at a time.
type Session struct {
	mu sync.Mutex

	identity entity.Context
	memory   *memory.Manager
	narrator Narrator
	tracker  *campaign.Tracker
	judge    campaign.Judge
	config   Config

	step      int64
	stats     ledger.CharacterStats
	defs      ledger.ResourceDefinitions
	history   []ledger.ActionRecord
	before    []checkpoint
	inCombat  bool
	over      bool
	directive string
	nudge     string

	closers []func() error
}

// NewSession creates a session at step 0. A nil tracker plays without a
// campaign plan and a nil judge skips deviation checks.
func NewSession(
	identity entity.Context,
	mem *memory.Manager,
	narrator Narrator,
	tracker *campaign.Tracker,
	judge campaign.Judge,
	config Config,
) *Session {
	if tracker == nil {
		tracker = campaign.NewTracker(nil, campaign.DefaultConfig())
	}
	if config.RefillPolicy == nil {
		config.RefillPolicy = ledger.MaxValueRefill
	}
	if config.RememberRetries <= 0 {
		config.RememberRetries = 1
	}

	defs := cloneDefs(config.Resources)
	s := &Session{
		identity: identity,
		memory:   mem,
		narrator: narrator,
		tracker:  tracker,
		judge:    judge,
		config:   config,
		stats:    ledger.NewCharacterStats(defs),
		defs:     defs,
	}
	if !tracker.Ended() {
		s.directive = tracker.BuildTransition(tracker.Progress().ChapterID).Directive
	}

	log.Debug("Game session initialized",
		"game_id", identity.GameID,
		"character_id", identity.CharacterID,
		"resources", len(defs),
		"campaign_ended", tracker.Ended(),
	)
	return s
}

// Identity returns the game and character this session plays.
func (s *Session) Identity() entity.Context {
	return s.identity
}

// TakeAction plays one player action. A narrator failure leaves the session
// unchanged; memory and deviation-check failures are logged and the turn
// goes on without them.
func (s *Session) TakeAction(ctx context.Context, action string) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action = strings.TrimSpace(action)
	if action == "" {
		return Turn{}, fmt.Errorf("%w: empty action", errors.ErrInvalidInput)
	}
	if s.over {
		return Turn{}, errors.ErrGameOver
	}

	ctx = s.context(ctx)
	step := s.step + 1
	turn := Turn{Step: step}

	recalled, err := s.memory.Recall(ctx, action, memory.AtStep(step))
	if err != nil {
		log.WarnContext(ctx, "Recall failed, narrating without memories", "error", err, "step", step)
		recalled = nil
	}
	turn.Recalled = recalled

	delta, err := s.narrator.Narrate(ctx, NarratorRequest{
		Step:          step,
		Action:        action,
		Memories:      recalled,
		Stats:         s.stats.Clone(),
		NarrativeSeed: s.tracker.NarrativeSeed(),
		Directive:     s.directive,
		Nudge:         s.nudge,
		History:       s.historyTexts(),
	})
	if err != nil {
		return Turn{}, errors.Wrap(err, "narration failed at step %d", step)
	}

	stats, defs, audit, err := s.book(ctx, delta)
	if err != nil {
		return Turn{}, errors.Wrap(err, "ledger update failed at step %d", step)
	}

	s.before = append(s.before, checkpoint{stats: s.stats, defs: s.defs, inCombat: s.inCombat})
	s.step = step
	s.stats = stats
	s.defs = defs
	s.inCombat = delta.InCombat
	s.directive = ""
	s.nudge = ""
	s.history = append(s.history, ledger.ActionRecord{
		ID:         uuid.NewString(),
		SequenceID: step,
		Action:     action,
		Narration:  delta.Narration,
		Audit:      audit,
		At:         time.Now().UTC(),
	})
	turn.Narration = delta.Narration
	turn.Audit = audit

	turn.Remembered = s.remember(ctx, step, delta.Memories)

	if s.judge != nil && s.tracker.ShouldCheck(int(step), delta.InCombat) {
		d, err := s.tracker.CheckAdvance(ctx, s.judge, action, s.historyTexts())
		if err != nil {
			log.WarnContext(ctx, "Deviation check failed", "error", err, "step", step)
		} else {
			turn.Decision = &d
			if d.Nudge != nil {
				s.nudge = d.Nudge.Text
				turn.Nudge = d.Nudge.Text
			}
			if tr, ok := s.tracker.Advance(d); ok {
				s.directive = tr.Directive
				turn.Transition = &tr
			}
		}
	}
	turn.Progress = s.tracker.Progress()

	if depleted := s.stats.Depleted(); len(depleted) > 0 {
		s.over = true
		turn.GameOver = true
		turn.Depleted = depleted
		log.InfoContext(ctx, "Game over", "step", step, "depleted", depleted)
	}
	return turn, nil
}

// book runs the narrator delta through the ledger without touching the session.
func (s *Session) book(ctx context.Context, delta NarratorDelta) (ledger.CharacterStats, ledger.ResourceDefinitions, []ledger.AuditEntry, error) {
	defs := cloneDefs(s.defs)
	for key, def := range delta.NewResources {
		defs[key] = def
	}

	stats := s.stats.Clone()
	audit, resources, err := ledger.InitializeMissing(ctx, defs, stats.Resources, s.config.RefillPolicy)
	if err != nil {
		return stats, defs, nil, err
	}
	stats.Resources = ledger.Reconcile(resources, defs)
	stats = ledger.ApplyDelta(stats, delta.Resources)

	if delta.LevelUp != nil {
		stats, err = ledger.ApplyLevelUp(delta.LevelUp, stats)
		if err != nil {
			return stats, defs, nil, err
		}
		log.InfoContext(ctx, "Character leveled up", "level", stats.Level, "ability", delta.LevelUp.Ability.Name)
	}
	return stats, defs, audit, nil
}

// remember stores each new fact at step, retrying failed writes with
// exponential backoff. Facts that still fail are dropped.
func (s *Session) remember(ctx context.Context, step int64, facts []string) []string {
	var stored []string
	for _, fact := range facts {
		exists, err := s.memory.Exists(ctx, fact)
		if err == nil && exists {
			continue
		}

		b := backoff.NewExponentialBackOff()
		if s.config.RetryInterval > 0 {
			b.InitialInterval = s.config.RetryInterval
		}
		_, err = backoff.Retry(ctx, func() (string, error) {
			id, err := s.memory.Remember(ctx, fact, step)
			if errors.Is(err, entity.ErrMissingGameContext) || errors.Is(err, errors.ErrInvalidInput) {
				return "", backoff.Permanent(err)
			}
			return id, err
		},
			backoff.WithBackOff(b),
			backoff.WithMaxTries(uint(s.config.RememberRetries)),
			backoff.WithNotify(func(err error, wait time.Duration) {
				log.DebugContext(ctx, "Retrying memory write", "error", err, "wait", wait)
			}),
		)
		if err != nil {
			log.WarnContext(ctx, "Memory write failed, continuing without it", "error", err, "step", step)
			continue
		}
		stored = append(stored, fact)
	}
	return stored
}

// Rest refills resources through the refill policy and attaches the audit
// entries to the latest action.
func (s *Session) Rest(ctx context.Context) ([]ledger.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = s.context(ctx)
	entries, resources, err := ledger.Refill(ctx, s.defs, s.stats.Resources, s.config.RefillPolicy)
	if err != nil {
		return nil, err
	}
	s.stats.Resources = resources
	s.history = ledger.AppendAudit(s.history, entries)
	log.InfoContext(ctx, "Character rested", "changes", len(entries))
	return entries, nil
}

// Rewind undoes every action from step on: their memories are forgotten and
// the character returns to its state before step. Campaign progress is kept.
func (s *Session) Rewind(ctx context.Context, step int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if step < 1 || step > s.step {
		return 0, fmt.Errorf("%w: step %d is outside 1..%d", errors.ErrInvalidInput, step, s.step)
	}

	ctx = s.context(ctx)
	forgotten, err := s.memory.ForgetAllAtOrAfter(ctx, step)
	if err != nil {
		return 0, errors.Wrap(err, "failed to forget memories from step %d", step)
	}

	cp := s.before[step-1]
	s.before = s.before[:step-1]
	s.stats = cp.stats
	s.defs = cp.defs
	s.inCombat = cp.inCombat
	s.step = step - 1
	s.over = len(s.stats.Depleted()) > 0
	s.nudge = ""

	kept := s.history[:0:0]
	for _, rec := range s.history {
		if rec.SequenceID < step {
			kept = append(kept, rec)
		}
	}
	s.history = kept

	log.InfoContext(ctx, "Session rewound", "step", s.step, "forgotten", forgotten)
	return forgotten, nil
}

// Remember stores a fact at the current step.
func (s *Session) Remember(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	step := s.step
	s.mu.Unlock()
	return s.memory.Remember(s.context(ctx), text, step)
}

// Recall returns the memories visible at the current step.
func (s *Session) Recall(ctx context.Context, query string) ([]string, error) {
	s.mu.Lock()
	step := s.step
	s.mu.Unlock()
	return s.memory.Recall(s.context(ctx), query, memory.AtStep(step))
}

// Forget removes every memory with exactly text.
func (s *Session) Forget(ctx context.Context, text string) (int, error) {
	return s.memory.Forget(s.context(ctx), text)
}

// Chapter returns the working chapter, sentinel included.
func (s *Session) Chapter() (campaign.Chapter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.CurrentChapter()
}

// Notes returns the game-master notes for a plot pointer in the current chapter.
func (s *Session) Notes(pointer string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Notes(pointer)
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]ledger.ActionRecord, len(s.history))
	for i, rec := range s.history {
		rec.Audit = append([]ledger.AuditEntry(nil), rec.Audit...)
		history[i] = rec
	}
	return State{
		GameID:        s.identity.GameID,
		CharacterID:   s.identity.CharacterID,
		Step:          s.step,
		Stats:         s.stats.Clone(),
		Resources:     cloneDefs(s.defs),
		Progress:      s.tracker.Progress(),
		CampaignEnded: s.tracker.Ended(),
		InCombat:      s.inCombat,
		GameOver:      s.over,
		NarrativeSeed: s.tracker.NarrativeSeed(),
		History:       history,
	}
}

// Close releases the resources the session was built with.
func (s *Session) Close() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) context(ctx context.Context) context.Context {
	ctx = entity.ContextWithGame(ctx, s.identity)
	return log.WithLogger(ctx, log.WithGameContext(log.FromContext(ctx), s.identity))
}

func (s *Session) historyTexts() []string {
	texts := make([]string, 0, len(s.history))
	for _, rec := range s.history {
		if rec.SequenceID == 0 {
			continue
		}
		if rec.Narration == "" {
			texts = append(texts, rec.Action)
			continue
		}
		texts = append(texts, rec.Action+" => "+rec.Narration)
	}
	return texts
}

func cloneDefs(defs ledger.ResourceDefinitions) ledger.ResourceDefinitions {
	out := make(ledger.ResourceDefinitions, len(defs))
	for key, def := range defs {
		if def.StartValue != nil {
			v := *def.StartValue
			def.StartValue = &v
		}
		out[key] = def
	}
	return out
}
