// Package agent implements the step-driven execution loop. Base owns state
// transitions, stuck detection and the run loop; concrete agents plug in a
// step function.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reagent-dev/reagent/pkg/llm"
	"github.com/reagent-dev/reagent/pkg/memory"
	"github.com/reagent-dev/reagent/pkg/schema"
)

const (
	defaultMaxSteps           = 30
	defaultDuplicateThreshold = 2
)

// Agent is the contract flows drive. Run executes until the agent finishes,
// errors or exhausts its step budget, and returns a human-readable trace.
type Agent interface {
	Name() string
	Description() string
	Run(ctx context.Context, request string) string
	Reset(ctx context.Context, clearMemory bool)
	State() schema.AgentState
	Memory() memory.Memory
	LLM() *llm.Client
}

// Base carries the state shared by every agent. It is not safe for
// concurrent use; each session owns its agent.
type Base struct {
	name           string
	description    string
	systemPrompt   string
	nextStepPrompt string

	llm    *llm.Client
	memory memory.Memory
	logger *slog.Logger

	state              schema.AgentState
	maxSteps           int
	currentStep        int
	duplicateThreshold int
	currentRequest     string

	// step is installed by the concrete agent.
	step func(ctx context.Context) (string, error)
}

// BaseOptions configure a Base.
type BaseOptions struct {
	Name               string
	Description        string
	SystemPrompt       string
	NextStepPrompt     string
	LLM                *llm.Client
	Memory             memory.Memory
	Logger             *slog.Logger
	MaxSteps           int
	DuplicateThreshold int
}

// NewBase builds the shared agent core.
func NewBase(opts BaseOptions) *Base {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	if opts.DuplicateThreshold <= 0 {
		opts.DuplicateThreshold = defaultDuplicateThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewFIFO(memory.Config{}, opts.Logger)
	}
	return &Base{
		name:               opts.Name,
		description:        opts.Description,
		systemPrompt:       opts.SystemPrompt,
		nextStepPrompt:     opts.NextStepPrompt,
		llm:                opts.LLM,
		memory:             opts.Memory,
		logger:             opts.Logger,
		state:              schema.StateIdle,
		maxSteps:           opts.MaxSteps,
		duplicateThreshold: opts.DuplicateThreshold,
	}
}

func (b *Base) Name() string             { return b.name }
func (b *Base) Description() string      { return b.description }
func (b *Base) State() schema.AgentState { return b.state }
func (b *Base) Memory() memory.Memory    { return b.memory }
func (b *Base) LLM() *llm.Client         { return b.llm }

// SetNextStepPrompt replaces the per-step nudge prompt.
func (b *Base) SetNextStepPrompt(prompt string) { b.nextStepPrompt = prompt }

// Interrupt pokes a running agent back to idle. The in-flight step finishes
// its blocking call; the loop exits on the next state check.
func (b *Base) Interrupt(ctx context.Context, notice string) {
	if notice != "" {
		b.memory.AddMessage(ctx, schema.UserMessage(notice))
	}
	b.state = schema.StateIdle
}

// Run drives the step loop until the agent finishes, errors or hits the step
// cap. The returned trace lists one line per step plus any terminal notes.
func (b *Base) Run(ctx context.Context, request string) string {
	b.memory.SetCurrentRequest(request)
	b.currentRequest = request

	if b.state != schema.StateIdle {
		b.logger.Error("cannot run agent", "agent", b.name, "state", b.state.String())
		return "Cannot run agent from state " + b.state.String()
	}

	if request != "" {
		b.memory.AddMessage(ctx, schema.UserMessage(request))
	}

	b.state = schema.StateRunning
	var results []string
	for b.currentStep < b.maxSteps && b.state == schema.StateRunning {
		b.currentStep++
		b.logger.Info("executing step", "agent", b.name, "step", b.currentStep, "max_steps", b.maxSteps)

		stepResult, err := b.step(ctx)
		if err != nil {
			b.logger.Error("step failed", "agent", b.name, "step", b.currentStep, "error", err)
			b.state = schema.StateError
			break
		}

		if b.isStuck(ctx) {
			b.handleStuck(ctx)
		}

		results = append(results, fmt.Sprintf("Step %d: %s", b.currentStep, stepResult))
	}

	if b.currentStep >= b.maxSteps {
		results = append(results, fmt.Sprintf("Terminated: Reached max steps (%d)", b.maxSteps))
	}
	if b.state != schema.StateFinished {
		results = append(results, "Terminated: Agent state is "+b.state.String())
	} else {
		b.state = schema.StateIdle
	}

	if len(results) == 0 {
		return "No steps executed"
	}
	return strings.Join(results, "\n") + "\n"
}

// Reset returns the agent to a runnable state and zeroes the token counters.
func (b *Base) Reset(ctx context.Context, clearMemory bool) {
	b.currentStep = 0
	b.state = schema.StateIdle
	if b.llm != nil {
		b.llm.ResetTokens()
	}
	if clearMemory {
		b.memory.Clear(ctx)
	}
}

// handleStuck nudges the model off a repeating path.
func (b *Base) handleStuck(ctx context.Context) {
	const stuckPrompt = "Observed duplicate responses. Consider new strategies and avoid repeating ineffective paths already attempted."
	b.logger.Warn("agent detected stuck state", "agent", b.name, "prompt", stuckPrompt)
	b.memory.AddMessage(ctx, schema.UserMessage(stuckPrompt))
}

// isStuck reports whether the last assistant message repeats earlier ones.
// duplicateThreshold (default two) prior assistant messages whose longest
// common subsequence with the last one exceeds 60% of its length count as a
// loop.
func (b *Base) isStuck(ctx context.Context) bool {
	messages := b.memory.GetMessages(ctx, "")
	if len(messages) < b.duplicateThreshold {
		return false
	}

	last := messages[len(messages)-1]
	lastText := last.Content.Plain()
	if last.Role != schema.RoleAssistant || lastText == "" {
		return false
	}

	threshold := int(0.6 * float64(len(lastText)))
	duplicates := 0
	for i := len(messages) - 2; i >= 0; i-- {
		msg := messages[i]
		text := msg.Content.Plain()
		if msg.Role != schema.RoleAssistant || text == "" {
			continue
		}
		if lcsLength(text, lastText) > threshold {
			duplicates++
			if duplicates >= b.duplicateThreshold {
				return true
			}
		}
	}
	return false
}

// lcsLength computes the longest-common-subsequence length with a two-row
// table, O(len(s1) * len(s2)) time and O(len(s2)) space.
func lcsLength(s1, s2 string) int {
	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			if s1[i-1] == s2[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}
