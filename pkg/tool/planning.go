package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Step statuses understood by the planning tool.
const (
	StepNotStarted = "not_started"
	StepInProgress = "in_progress"
	StepCompleted  = "completed"
	StepBlocked    = "blocked"
)

var stepStatusSymbols = map[string]string{
	StepNotStarted: "[ ]",
	StepInProgress: "[→]",
	StepCompleted:  "[✓]",
	StepBlocked:    "[!]",
}

// Plan is a titled list of steps with per-step status and notes.
type Plan struct {
	ID           string
	Title        string
	Steps        []string
	StepStatuses []string
	StepNotes    []string
}

// Completed reports whether every step of the plan is completed.
func (p *Plan) Completed() bool {
	for _, status := range p.StepStatuses {
		if status != StepCompleted {
			return false
		}
	}
	return true
}

func (p *Plan) countStatus(status string) int {
	n := 0
	for _, s := range p.StepStatuses {
		if s == status {
			n++
		}
	}
	return n
}

// Planning tracks plans by id and keeps one of them active. All operations
// are safe for concurrent use.
type Planning struct {
	mu       sync.Mutex
	plans    map[string]*Plan
	activeID string
}

// NewPlanning returns an empty planning tool.
func NewPlanning() *Planning {
	return &Planning{plans: make(map[string]*Plan)}
}

func (p *Planning) Name() string { return "planning" }

func (p *Planning) Description() string {
	return "Plan and track your tasks."
}

func (p *Planning) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"description": "The command to execute. Available commands: create, update, list, get, set_active, mark_step, delete.",
				"enum":        []string{"create", "update", "list", "get", "set_active", "mark_step", "delete"},
				"type":        "string",
			},
			"plan_id": map[string]any{
				"description": "Unique identifier for the plan. Required for create, update, set_active, and delete commands. Optional for get and mark_step (uses active plan if not specified).",
				"type":        "string",
			},
			"title": map[string]any{
				"description": "Title for the plan. Required for create command, optional for update command.",
				"type":        "string",
			},
			"steps": map[string]any{
				"description": "List of plan steps. Required for create command, optional for update command.",
				"type":        "array",
				"items":       map[string]any{"type": "string"},
			},
			"step_index": map[string]any{
				"description": "Index of the step to update (0-based). Required for mark_step command.",
				"type":        "integer",
			},
			"step_status": map[string]any{
				"description": "Status to set for a step. Used with mark_step command.",
				"enum":        []string{StepNotStarted, StepInProgress, StepCompleted, StepBlocked},
				"type":        "string",
			},
			"step_notes": map[string]any{
				"description": "Additional notes for a step. Optional for mark_step command.",
				"type":        "string",
			},
		},
		"required":             []string{"command"},
		"additionalProperties": false,
	}
}

func (p *Planning) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	command := stringArg(args, "command")
	planID := stringArg(args, "plan_id")
	title := stringArg(args, "title")
	steps := stringSliceArg(args, "steps")
	stepIndex := intArg(args, "step_index", -1)
	stepStatus := stringArg(args, "step_status")
	stepNotes := stringArg(args, "step_notes")

	p.mu.Lock()
	defer p.mu.Unlock()

	switch command {
	case "create":
		return p.create(planID, title, steps), nil
	case "update":
		return p.update(planID, title, steps), nil
	case "list":
		return p.list(), nil
	case "get":
		return p.get(planID), nil
	case "set_active":
		return p.setActive(planID), nil
	case "mark_step":
		return p.markStep(planID, stepIndex, stepStatus, stepNotes), nil
	case "delete":
		return p.delete(planID), nil
	default:
		return Errorf("Unrecognized command: %s. Allowed commands are: create, update, list, get, set_active, mark_step, delete", command), nil
	}
}

// ActivePlan returns the formatted active plan, if any.
func (p *Planning) ActivePlan() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, exists := p.plans[p.activeID]
	if !exists {
		return "", false
	}
	return formatPlan(plan), true
}

// ActivePlanCompleted reports whether an active plan exists and every one of
// its steps is completed.
func (p *Planning) ActivePlanCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, exists := p.plans[p.activeID]
	return exists && plan.Completed()
}

// NextStep returns the index and text of the first runnable step of the
// active plan, meaning one that is not started or already in progress.
// Completed and blocked steps are passed over. ok is false when no runnable
// step exists.
func (p *Planning) NextStep() (index int, step string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, exists := p.plans[p.activeID]
	if !exists {
		return 0, "", false
	}
	for i, status := range plan.StepStatuses {
		if status == StepNotStarted || status == StepInProgress {
			return i, plan.Steps[i], true
		}
	}
	return 0, "", false
}

func (p *Planning) create(planID, title string, steps []string) ToolResult {
	if planID == "" {
		return Error("Parameter `plan_id` is required for command: create")
	}
	if _, exists := p.plans[planID]; exists {
		return Errorf("Plan with ID %s already exists. Use 'update' to modify existing plans.", planID)
	}
	if title == "" {
		return Error("Parameter `title` is required for command: create")
	}
	if len(steps) == 0 {
		return Error("Parameter `steps` must be a non-empty list of strings for command: create")
	}

	plan := &Plan{
		ID:           planID,
		Title:        title,
		Steps:        steps,
		StepStatuses: filled(len(steps), StepNotStarted),
		StepNotes:    filled(len(steps), ""),
	}
	p.plans[planID] = plan
	p.activeID = planID

	return Text("Plan created successfully with ID: " + planID + "\n\n" + formatPlan(plan))
}

func (p *Planning) update(planID, title string, steps []string) ToolResult {
	if planID == "" {
		return Error("Parameter `plan_id` is required for command: update")
	}
	plan, exists := p.plans[planID]
	if !exists {
		return Errorf("No plan found with ID: %s", planID)
	}

	if title != "" {
		plan.Title = title
	}
	if len(steps) > 0 {
		// Steps unchanged at the same position keep their status and notes.
		statuses := filled(len(steps), StepNotStarted)
		notes := filled(len(steps), "")
		for i, step := range steps {
			if i < len(plan.Steps) && plan.Steps[i] == step {
				statuses[i] = plan.StepStatuses[i]
				notes[i] = plan.StepNotes[i]
			}
		}
		plan.Steps = steps
		plan.StepStatuses = statuses
		plan.StepNotes = notes
	}

	return Text("Plan updated successfully with ID: " + planID + "\n\n" + formatPlan(plan))
}

func (p *Planning) list() ToolResult {
	if len(p.plans) == 0 {
		return Text("No plans available. Create a plan with the 'create' command.")
	}

	ids := make([]string, 0, len(p.plans))
	for id := range p.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("Available plans:\n")
	for _, id := range ids {
		plan := p.plans[id]
		marker := ""
		if id == p.activeID {
			marker = " (active)"
		}
		progress := fmt.Sprintf("%d/%d steps completed", plan.countStatus(StepCompleted), len(plan.Steps))
		fmt.Fprintf(&sb, "• %s%s: %s - %s\n", id, marker, plan.Title, progress)
	}
	return Text(sb.String())
}

func (p *Planning) get(planID string) ToolResult {
	if planID == "" {
		if p.activeID == "" {
			return Error("No active plan. Please specify a plan_id or set an active plan.")
		}
		planID = p.activeID
	}
	plan, exists := p.plans[planID]
	if !exists {
		return Errorf("No plan found with ID: %s", planID)
	}
	return Text(formatPlan(plan))
}

func (p *Planning) setActive(planID string) ToolResult {
	if planID == "" {
		return Error("Parameter `plan_id` is required for command: set_active")
	}
	plan, exists := p.plans[planID]
	if !exists {
		return Errorf("No plan found with ID: %s", planID)
	}
	p.activeID = planID
	return Text("Plan '" + planID + "' is now the active plan.\n\n" + formatPlan(plan))
}

func (p *Planning) markStep(planID string, stepIndex int, stepStatus, stepNotes string) ToolResult {
	if planID == "" {
		if p.activeID == "" {
			return Error("No active plan. Please specify a plan_id or set an active plan.")
		}
		planID = p.activeID
	}
	plan, exists := p.plans[planID]
	if !exists {
		return Errorf("No plan found with ID: %s", planID)
	}
	if stepIndex < 0 || stepIndex >= len(plan.Steps) {
		return Errorf("Invalid step index: %d. Valid indices range from 0 to %d", stepIndex, len(plan.Steps)-1)
	}

	if stepStatus != "" {
		if _, valid := stepStatusSymbols[stepStatus]; !valid {
			return Errorf("Invalid step status: %s. Valid statuses are: not_started, in_progress, completed, blocked", stepStatus)
		}
		plan.StepStatuses[stepIndex] = stepStatus
	}
	if stepNotes != "" {
		plan.StepNotes[stepIndex] = stepNotes
	}

	return Text(fmt.Sprintf("Step %d updated in plan '%s'.\n\n%s", stepIndex, planID, formatPlan(plan)))
}

func (p *Planning) delete(planID string) ToolResult {
	if planID == "" {
		return Error("Parameter `plan_id` is required for command: delete")
	}
	if _, exists := p.plans[planID]; !exists {
		return Errorf("No plan found with ID: %s", planID)
	}
	delete(p.plans, planID)
	if p.activeID == planID {
		p.activeID = ""
	}
	return Text("Plan '" + planID + "' has been deleted.")
}

func formatPlan(plan *Plan) string {
	var sb strings.Builder
	header := fmt.Sprintf("Plan: %s (ID: %s)\n", plan.Title, plan.ID)
	sb.WriteString(header)
	sb.WriteString(strings.Repeat("=", len(header)))
	sb.WriteString("\n\n")

	total := len(plan.Steps)
	completed := plan.countStatus(StepCompleted)
	percentage := 0.0
	if total > 0 {
		percentage = float64(completed) / float64(total) * 100
	}
	fmt.Fprintf(&sb, "Progress: %d/%d steps completed (%.1f%%)\n", completed, total, percentage)
	fmt.Fprintf(&sb, "Status: %d completed, %d in progress, %d blocked, %d not started\n\n",
		completed, plan.countStatus(StepInProgress), plan.countStatus(StepBlocked), plan.countStatus(StepNotStarted))
	sb.WriteString("Steps:\n")

	for i, step := range plan.Steps {
		symbol, known := stepStatusSymbols[plan.StepStatuses[i]]
		if !known {
			symbol = "[ ]"
		}
		fmt.Fprintf(&sb, "%d. %s %s\n", i, symbol, step)
		if plan.StepNotes[i] != "" {
			fmt.Fprintf(&sb, "    Notes: %s\n", plan.StepNotes[i])
		}
	}
	return sb.String()
}

func filled(n int, value string) []string {
	s := make([]string, n)
	for i := range s {
		s[i] = value
	}
	return s
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
