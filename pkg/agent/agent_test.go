package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/reagent-dev/reagent/pkg/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBaseRunFinishes(t *testing.T) {
	b := NewBase(BaseOptions{Name: "t", Logger: testLogger()})
	b.step = func(ctx context.Context) (string, error) {
		b.state = schema.StateFinished
		return "done", nil
	}

	trace := b.Run(context.Background(), "do the thing")

	if !strings.Contains(trace, "Step 1: done") {
		t.Errorf("trace missing step line: %q", trace)
	}
	if strings.Contains(trace, "Terminated") {
		t.Errorf("finished run should not report termination: %q", trace)
	}
	if b.State() != schema.StateIdle {
		t.Errorf("state after finished run = %v, want idle", b.State())
	}
}

func TestBaseRunHitsStepCap(t *testing.T) {
	b := NewBase(BaseOptions{Name: "t", Logger: testLogger(), MaxSteps: 2})
	b.step = func(ctx context.Context) (string, error) { return "looping", nil }

	trace := b.Run(context.Background(), "never ends")

	if !strings.Contains(trace, "Terminated: Reached max steps (2)") {
		t.Errorf("trace missing max-steps notice: %q", trace)
	}
}

func TestBaseRunStepError(t *testing.T) {
	b := NewBase(BaseOptions{Name: "t", Logger: testLogger()})
	b.step = func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	}

	trace := b.Run(context.Background(), "fail")

	if b.State() != schema.StateError {
		t.Fatalf("state = %v, want error", b.State())
	}
	if !strings.Contains(trace, "Terminated: Agent state is") {
		t.Errorf("trace missing terminal state line: %q", trace)
	}
}

func TestBaseRunRejectsNonIdleState(t *testing.T) {
	b := NewBase(BaseOptions{Name: "t", Logger: testLogger()})
	b.state = schema.StateRunning

	trace := b.Run(context.Background(), "nope")

	if !strings.Contains(trace, "Cannot run agent from state") {
		t.Errorf("trace = %q, want refusal", trace)
	}
}

func TestBaseResetRestoresRunnability(t *testing.T) {
	ctx := context.Background()
	b := NewBase(BaseOptions{Name: "t", Logger: testLogger(), MaxSteps: 1})
	b.step = func(ctx context.Context) (string, error) { return "x", nil }

	b.Run(ctx, "first")
	b.Reset(ctx, true)

	if b.State() != schema.StateIdle || b.currentStep != 0 {
		t.Fatalf("reset left state=%v step=%d", b.State(), b.currentStep)
	}
	if got := b.Memory().GetMessages(ctx, ""); len(got) != 0 {
		t.Errorf("reset with clearMemory kept %d messages", len(got))
	}
}

func TestIsStuckDetectsRepetition(t *testing.T) {
	ctx := context.Background()
	b := NewBase(BaseOptions{Name: "t", Logger: testLogger()})

	repeated := strings.Repeat("trying the same approach again ", 4)
	b.memory.AddMessage(ctx, schema.AssistantMessage(schema.TextContent(repeated+"one")))
	b.memory.AddMessage(ctx, schema.UserMessage("keep going"))
	b.memory.AddMessage(ctx, schema.AssistantMessage(schema.TextContent(repeated+"two")))
	b.memory.AddMessage(ctx, schema.AssistantMessage(schema.TextContent(repeated+"three")))

	if !b.isStuck(ctx) {
		t.Error("two near-duplicates should trip stuck detection")
	}
}

func TestIsStuckBelowThreshold(t *testing.T) {
	ctx := context.Background()
	b := NewBase(BaseOptions{Name: "t", Logger: testLogger()})

	b.memory.AddMessage(ctx, schema.AssistantMessage(schema.TextContent("the same sentence repeated verbatim here")))
	b.memory.AddMessage(ctx, schema.AssistantMessage(schema.TextContent("the same sentence repeated verbatim here")))

	if b.isStuck(ctx) {
		t.Error("one duplicate is below the threshold")
	}
}

func TestIsStuckFalseForDistinctMessages(t *testing.T) {
	ctx := context.Background()
	b := NewBase(BaseOptions{Name: "t", Logger: testLogger()})

	b.memory.AddMessage(ctx, schema.AssistantMessage(schema.TextContent("first answer about weather")))
	b.memory.AddMessage(ctx, schema.AssistantMessage(schema.TextContent("zzz qqq unrelated reply")))

	if b.isStuck(ctx) {
		t.Error("distinct messages should not trip stuck detection")
	}
}

func TestLCSLength(t *testing.T) {
	cases := []struct {
		s1, s2 string
		want   int
	}{
		{"abcde", "ace", 3},
		{"abc", "abc", 3},
		{"abc", "xyz", 0},
		{"", "abc", 0},
	}
	for _, tc := range cases {
		if got := lcsLength(tc.s1, tc.s2); got != tc.want {
			t.Errorf("lcsLength(%q, %q) = %d, want %d", tc.s1, tc.s2, got, tc.want)
		}
	}
}
