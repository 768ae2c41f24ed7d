package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/reagent-dev/reagent/pkg/agent"
	"github.com/reagent-dev/reagent/pkg/llm"
	"github.com/reagent-dev/reagent/pkg/prompt"
	"github.com/reagent-dev/reagent/pkg/schema"
	"github.com/reagent-dev/reagent/pkg/tool"
)

// stepTagPattern extracts an executor category like [SEARCH] or [CODE] from
// the head of a step text.
var stepTagPattern = regexp.MustCompile(`^\s*\[([A-Z_]+)\]`)

// Planning decomposes a request into a plan and walks it step by step,
// dispatching each step to an executor agent and compacting the executor's
// memory between steps.
type Planning struct {
	set      agentSet
	llm      *llm.Client
	planning *tool.Planning
	logger   *slog.Logger

	activePlanID     string
	currentStepIndex int
}

// PlanningOptions configure a planning flow.
type PlanningOptions struct {
	// Agents holds the executors, keyed by the category tag that selects
	// them. The primary agent handles untagged steps.
	Agents     map[string]agent.Agent
	PrimaryKey string
	// LLM drives plan creation and summaries. Defaults to the primary
	// agent's client.
	LLM    *llm.Client
	Logger *slog.Logger
}

// NewPlanning builds a planning flow.
func NewPlanning(opts PlanningOptions) (*Planning, error) {
	set, err := newAgentSet(opts.Agents, opts.PrimaryKey)
	if err != nil {
		return nil, err
	}
	if opts.LLM == nil {
		opts.LLM = set.primary().LLM()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	f := &Planning{
		set:      set,
		llm:      opts.LLM,
		planning: tool.NewPlanning(),
		logger:   opts.Logger,
	}
	f.reset(context.Background(), true)
	return f, nil
}

// Execute creates a plan for the input and drives it to completion. The
// returned transcript holds one summarized section per completed step; a
// step whose executor ends finished or errored adds no section and stops the
// walk.
func (f *Planning) Execute(ctx context.Context, input string) string {
	if input != "" {
		f.createInitialPlan(ctx, input)
		if !f.planExists() {
			f.logger.Error("plan creation failed", "plan_id", f.activePlanID)
			return "Failed to create plan for: " + input
		}
	}

	var result strings.Builder
	for {
		stepIndex, stepText, ok := f.startNextStep(ctx)
		if !ok {
			break
		}
		f.currentStepIndex = stepIndex

		stepType := stepText
		if match := stepTagPattern.FindStringSubmatch(stepText); match != nil {
			stepType = match[1]
		}
		executor := f.set.executor(stepType)

		stepResult := f.executeStep(ctx, executor, stepIndex, stepText)
		if executor.State() == schema.StateFinished || executor.State() == schema.StateError {
			break
		}

		// Compact the executor's memory so context does not accumulate
		// across steps.
		summary := f.summarizePlan(ctx, executor.Memory().GetMessages(ctx, stepResult))
		executor.Reset(ctx, false)
		executor.Memory().AddMessage(ctx, schema.AssistantMessage(schema.TextContent(summary)))
		if input != "" {
			executor.Memory().AddMessage(ctx, schema.UserMessage("Continue to accomplish the task: "+input))
		}

		result.WriteString("##" + stepType + ":\n" + summary + "\n\n")
	}

	f.reset(ctx, true)
	return result.String()
}

// reset prepares the flow for the next plan: fresh plan id, no current step,
// all agents reset.
func (f *Planning) reset(ctx context.Context, clearMemory bool) {
	f.activePlanID = fmt.Sprintf("plan_%d", time.Now().UnixNano())
	f.currentStepIndex = -1
	for _, key := range f.set.sortedKeys() {
		f.set.agents[key].Reset(ctx, clearMemory)
	}
}

func (f *Planning) planExists() bool {
	result, _ := f.planning.Execute(context.Background(), map[string]any{
		"command": "get",
		"plan_id": f.activePlanID,
	})
	return !result.Failed()
}

// createInitialPlan asks the model to lay out the plan, forcing the planning
// tool. A refusal or malformed reply falls back to a generic default plan.
func (f *Planning) createInitialPlan(ctx context.Context, request string) {
	f.logger.Info("creating initial plan", "plan_id", f.activePlanID)

	var user strings.Builder
	user.WriteString("Please provide a detailed plan to accomplish this task: " + request + "\n\n")
	user.WriteString("**Note**: The following executors will be used to accomplish the plan.\n\n")
	for _, key := range f.set.sortedKeys() {
		tc, ok := f.set.agents[key].(*agent.ToolCall)
		if !ok {
			continue
		}
		params, err := json.MarshalIndent(tc.Tools().ToParams(), "", "  ")
		if err != nil {
			continue
		}
		user.WriteString("Available tools for executor `" + key + "`:\n")
		user.Write(params)
		user.WriteString("\n\n")
	}

	resp, err := f.llm.AskTool(ctx,
		[]schema.Message{schema.UserMessage(user.String())},
		prompt.PlanCreateSystem,
		"",
		planningParams(f.planning),
		"required",
	)
	if err != nil {
		f.logger.Error("plan creation request failed", "error", err)
	} else {
		for _, call := range resp.ToolCalls {
			args, err := tool.ParseArguments(call.Function.Arguments)
			if err != nil {
				f.logger.Error("failed to parse plan tool arguments", "error", err)
				continue
			}
			args["plan_id"] = f.activePlanID
			result, _ := f.planning.Execute(ctx, args)
			f.logger.Info("plan creation result", "result", result.String())
			if f.planExists() {
				return
			}
		}
	}

	f.logger.Warn("creating default plan", "plan_id", f.activePlanID)
	title := request
	if len(title) > 50 {
		title = truncateUTF8(title, 50) + "..."
	}
	f.planning.Execute(ctx, map[string]any{
		"command": "create",
		"plan_id": f.activePlanID,
		"title":   title,
		"steps":   []any{"Analyze request", "Execute task", "Verify results"},
	})
}

// startNextStep locates the first runnable step of the plan and marks it in
// progress.
func (f *Planning) startNextStep(ctx context.Context) (int, string, bool) {
	index, step, ok := f.planning.NextStep()
	if !ok {
		return -1, "", false
	}
	result, _ := f.planning.Execute(ctx, map[string]any{
		"command":     "mark_step",
		"plan_id":     f.activePlanID,
		"step_index":  index,
		"step_status": tool.StepInProgress,
	})
	f.logger.Info("started executing step", "step", index, "plan_id", f.activePlanID, "result", result.String())
	return index, step, true
}

// executeStep runs the executor against the current step and marks the step
// completed unless the executor errored.
func (f *Planning) executeStep(ctx context.Context, executor agent.Agent, stepIndex int, stepText string) string {
	stepPrompt := "\nCURRENT PLAN STATUS:\n" + f.planText(ctx) +
		"\n\nYOUR CURRENT TASK:\n" +
		fmt.Sprintf("You are now working on step %d: %q\n", stepIndex, stepText) +
		"Please execute this step using the appropriate tools. When you're done, provide a summary of what you accomplished and call `terminate` to trigger the next step."

	stepResult := executor.Run(ctx, stepPrompt)

	if executor.State() != schema.StateError {
		result, _ := f.planning.Execute(ctx, map[string]any{
			"command":     "mark_step",
			"plan_id":     f.activePlanID,
			"step_index":  stepIndex,
			"step_status": tool.StepCompleted,
		})
		f.logger.Info("marked step completed", "step", stepIndex, "plan_id", f.activePlanID, "result", result.String())
	}
	return stepResult
}

func (f *Planning) planText(ctx context.Context) string {
	result, _ := f.planning.Execute(ctx, map[string]any{
		"command": "get",
		"plan_id": f.activePlanID,
	})
	return result.String()
}

// summarizePlan condenses a finished step's transcript against the current
// plan status. A failing LLM call falls back to the primary agent.
func (f *Planning) summarizePlan(ctx context.Context, messages []schema.Message) string {
	system := prompt.PlanSummarizeSystem
	nextStep := "Above is the nearest finished step in the plan. Here is the current plan status:\n\n" +
		f.planText(ctx) + "\n\n" +
		"Please provide a summary of what was accomplished and any thoughts for next steps (when the plan is not fully finished)."

	summary, err := f.llm.Ask(ctx, messages, system, nextStep)
	if err == nil {
		return summary
	}
	f.logger.Error("plan summary request failed", "error", err)

	fallback := f.set.primary().Run(ctx, system+nextStep)
	if fallback == "" {
		return "Error generating summary."
	}
	return fallback
}

func planningParams(p *tool.Planning) []map[string]any {
	return []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        p.Name(),
			"description": p.Description(),
			"parameters":  p.Parameters(),
		},
	}}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
