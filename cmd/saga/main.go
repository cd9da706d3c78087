package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/lexlapax/saga/pkg/config"
	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/game"
	"github.com/lexlapax/saga/pkg/log"
)

// Constants for the command-line interface
const (
	cmdHelp     = "!help"
	cmdQuit     = "!quit"
	cmdRemember = "!remember"
	cmdRecall   = "!recall"
	cmdForget   = "!forget"
	cmdRewind   = "!rewind"
	cmdRest     = "!rest"
	cmdStatus   = "!status"
	cmdChapter  = "!chapter"
	cmdNotes    = "!notes"
)

var commands = []string{cmdHelp, cmdQuit, cmdRemember, cmdRecall, cmdForget, cmdRewind, cmdRest, cmdStatus, cmdChapter, cmdNotes}

// Command-line help text
const helpText = `
Saga - Command Reference:
-----------------------------------------
!help                 - Show this help message
!remember <text>      - Store a memory at the current step
!recall <query>       - Show the memories visible at the current step
!forget <text>        - Remove every memory with exactly this text
!rewind <step>        - Undo every action from step on
!rest                 - Rest and refill resources
!status               - Show the character and game state
!chapter              - Show the current chapter plan
!notes <plot id>      - Show game-master notes for a plot point
!quit                 - Exit the application

Notes:
- Any other input is a player action
- Tab completion is available for commands
- Use up/down arrows for command history`

// historyFile is the file where command history is stored
const historyFile = ".saga_history"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	stdinMode := flag.Bool("s", false, "Read from stdin and exit when complete")
	flag.Parse()

	// a missing .env file is fine
	_ = godotenv.Load()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg, os.Stderr)
	log.Info("Starting saga")

	ctx := context.Background()
	session, err := game.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Error("Failed to initialize game session", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	c := &cli{session: session, cfg: cfg, out: os.Stdout}
	if *stdinMode {
		c.runStdin(ctx, os.Stdin)
		return
	}
	c.runInteractive(ctx)
}

// setupLogging installs the configured logger as the default for every package.
func setupLogging(cfg *config.Config, w io.Writer) {
	log.SetupDefault(log.Config{
		Level:  log.Level(cfg.Logging.Level),
		Format: log.Format(cfg.Logging.Format),
	}, w)
}

// cli dispatches input lines to a game session.
type cli struct {
	session *game.Session
	cfg     *config.Config
	out     io.Writer
}

func (c *cli) banner() {
	state := c.session.Snapshot()
	fmt.Fprintln(c.out, "Memory Store:", c.cfg.Memory.Type)
	fmt.Fprintln(c.out, "Reasoning Provider:", c.cfg.Reasoning.Provider)
	fmt.Fprintf(c.out, "Game: %s | Character: %s\n", state.GameID, state.CharacterID)
}

func (c *cli) prompt() string {
	state := c.session.Snapshot()
	return fmt.Sprintf("saga::%s@%d> ", state.CharacterID, state.Step)
}

// runStdin processes lines until EOF. Comment lines are skipped so that
// scripted sessions can be annotated.
func (c *cli) runStdin(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(c.out, "\n=== Saga (stdin mode) ===")
	c.banner()

	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" || strings.HasPrefix(input, "#") || strings.HasPrefix(input, "//") {
			continue
		}

		fmt.Fprint(c.out, c.prompt(), input, "\n")
		if !c.processCommand(ctx, input, nil) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(c.out, "Error reading stdin: %v\n", err)
	}
	fmt.Fprintln(c.out, "Goodbye!")
}

func (c *cli) runInteractive(ctx context.Context) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(false)
	line.SetCompleter(func(line string) (completions []string) {
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, line) {
				completions = append(completions, cmd)
			}
		}
		return
	})

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintln(c.out, "\n=== Saga ===")
	c.banner()
	fmt.Fprintln(c.out, "Type !help for available commands.")

	for {
		input, err := line.Prompt(c.prompt())
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(c.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(c.out, "Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !c.processCommand(ctx, input, line) {
			return
		}
	}
}

// argument returns the command argument, prompting for it in interactive
// mode when it is missing.
func (c *cli) argument(parts []string, line *liner.State, ask string) (string, bool) {
	if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
		return strings.TrimSpace(parts[1]), true
	}
	if line == nil {
		fmt.Fprintln(c.out, "Argument required")
		return "", false
	}
	value, err := line.Prompt(ask)
	if err != nil || strings.TrimSpace(value) == "" {
		fmt.Fprintln(c.out, "Cancelled")
		return "", false
	}
	return strings.TrimSpace(value), true
}

// processCommand handles a single input line and returns false if the CLI should exit
func (c *cli) processCommand(ctx context.Context, input string, line *liner.State) bool {
	if !strings.HasPrefix(input, "!") {
		c.takeAction(ctx, input)
		return true
	}

	parts := strings.SplitN(input, " ", 2)
	switch parts[0] {
	case cmdHelp:
		fmt.Fprintln(c.out, helpText)

	case cmdQuit:
		fmt.Fprintln(c.out, "Goodbye!")
		return false

	case cmdRemember:
		text, ok := c.argument(parts, line, "Enter memory to store: ")
		if !ok {
			return true
		}
		id, err := c.session.Remember(ctx, text)
		if err != nil {
			fmt.Fprintf(c.out, "Error storing memory: %v\n", err)
			return true
		}
		fmt.Fprintf(c.out, "Memory stored with ID: %s\n", id)

	case cmdRecall:
		query, ok := c.argument(parts, line, "Enter recall query: ")
		if !ok {
			return true
		}
		memories, err := c.session.Recall(ctx, query)
		if err != nil {
			fmt.Fprintf(c.out, "Error recalling memories: %v\n", err)
			return true
		}
		if len(memories) == 0 {
			fmt.Fprintln(c.out, "No memories found for the query.")
			return true
		}
		for i, m := range memories {
			fmt.Fprintf(c.out, "Memory %d: %s\n", i+1, m)
		}

	case cmdForget:
		text, ok := c.argument(parts, line, "Enter memory text to forget: ")
		if !ok {
			return true
		}
		n, err := c.session.Forget(ctx, text)
		if err != nil {
			fmt.Fprintf(c.out, "Error forgetting memory: %v\n", err)
			return true
		}
		fmt.Fprintf(c.out, "Forgot %d memories.\n", n)

	case cmdRewind:
		arg, ok := c.argument(parts, line, "Rewind to step: ")
		if !ok {
			return true
		}
		step, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			fmt.Fprintf(c.out, "Invalid step: %s\n", arg)
			return true
		}
		n, err := c.session.Rewind(ctx, step)
		if err != nil {
			fmt.Fprintf(c.out, "Error rewinding: %v\n", err)
			return true
		}
		fmt.Fprintf(c.out, "Rewound to step %d, forgot %d memories.\n", step-1, n)

	case cmdRest:
		entries, err := c.session.Rest(ctx)
		if err != nil {
			fmt.Fprintf(c.out, "Error resting: %v\n", err)
			return true
		}
		if len(entries) == 0 {
			fmt.Fprintln(c.out, "You rest, but nothing needed restoring.")
			return true
		}
		for _, e := range entries {
			fmt.Fprintf(c.out, "%s: %g -> %g\n", e.ResourceKey, e.Previous, e.New)
		}

	case cmdStatus:
		c.printStatus()

	case cmdChapter:
		chapter, ok := c.session.Chapter()
		if !ok {
			fmt.Fprintln(c.out, "The campaign has ended; the world is yours to explore.")
			return true
		}
		fmt.Fprintf(c.out, "Chapter %d: %s\n", chapter.ChapterID, chapter.Title)
		progress := c.session.Snapshot().Progress
		for _, p := range chapter.PlotPoints {
			marker := " "
			if p.PlotID == progress.PlotPointID {
				marker = ">"
			}
			fmt.Fprintf(c.out, "%s %d. %s\n", marker, p.PlotID, p.Title)
		}

	case cmdNotes:
		pointer, ok := c.argument(parts, line, "Plot point: ")
		if !ok {
			return true
		}
		notes := c.session.Notes(pointer)
		if len(notes) == 0 {
			fmt.Fprintln(c.out, "No notes for that plot point.")
			return true
		}
		for _, n := range notes {
			fmt.Fprintln(c.out, "- "+n)
		}

	default:
		fmt.Fprintf(c.out, "Unknown command: %s\nType !help for available commands.\n", parts[0])
	}
	return true
}

func (c *cli) takeAction(ctx context.Context, action string) {
	turn, err := c.session.TakeAction(ctx, action)
	if err != nil {
		if errors.Is(err, errors.ErrGameOver) {
			fmt.Fprintln(c.out, "The game is over. Use !rewind <step> to try again.")
			return
		}
		fmt.Fprintf(c.out, "Error taking action: %v\n", err)
		return
	}

	fmt.Fprintln(c.out, turn.Narration)
	if turn.Transition != nil {
		if turn.Transition.CampaignEnded {
			fmt.Fprintln(c.out, "\n*** The campaign is complete. ***")
		} else {
			fmt.Fprintf(c.out, "\n*** Chapter %d: %s ***\n", turn.Transition.ChapterID, turn.Transition.Chapter.Title)
		}
	}
	if turn.GameOver {
		fmt.Fprintf(c.out, "\n*** Game over: %s ran out. ***\n", strings.Join(turn.Depleted, ", "))
	}
}

func (c *cli) printStatus() {
	state := c.session.Snapshot()
	fmt.Fprintf(c.out, "Step: %d | Level: %d | Chapter: %d | Plot point: %d\n",
		state.Step, state.Stats.Level, state.Progress.ChapterID, state.Progress.PlotPointID)

	for _, key := range state.Stats.Resources.Keys() {
		res := state.Stats.Resources[key]
		fmt.Fprintf(c.out, "  %s: %g/%g\n", key, res.Current(), res.MaxValue)
	}
	if len(state.Stats.SpellsAndAbilities) > 0 {
		names := make([]string, len(state.Stats.SpellsAndAbilities))
		for i, a := range state.Stats.SpellsAndAbilities {
			names[i] = a.Name
		}
		fmt.Fprintf(c.out, "  Abilities: %s\n", strings.Join(names, ", "))
	}
	if state.InCombat {
		fmt.Fprintln(c.out, "  In combat")
	}
	if state.GameOver {
		fmt.Fprintln(c.out, "  Game over")
	}
}
