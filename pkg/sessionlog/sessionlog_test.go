package sessionlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok, "bare context should carry no session")

	ctx := WithSession(context.Background(), "sess_1")
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "sess_1", id)

	_, ok = FromContext(WithSession(context.Background(), ""))
	assert.False(t, ok, "empty session id should not count")
}

func TestHandlerBuffersPerSession(t *testing.T) {
	sink := NewSink()
	logger := slog.New(sink.Handler(nil))

	ctxA := WithSession(context.Background(), "a")
	ctxB := WithSession(context.Background(), "b")
	logger.InfoContext(ctxA, "first", "step", 1)
	logger.InfoContext(ctxB, "other session")
	logger.WarnContext(ctxA, "second")

	lines, err := sink.Buffer("a")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INFO first step=1")
	assert.Contains(t, lines[1], "WARN second")

	lines, err = sink.Buffer("b")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "other session")
}

func TestBufferFlushesIntoHistory(t *testing.T) {
	sink := NewSink()
	logger := slog.New(sink.Handler(nil))
	ctx := WithSession(context.Background(), "s")

	logger.InfoContext(ctx, "one")
	first, err := sink.Buffer("s")
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := sink.Buffer("s")
	require.NoError(t, err)
	assert.Empty(t, again, "reading the buffer should drain it")

	history, err := sink.History("s")
	require.NoError(t, err)
	assert.Equal(t, first, history)

	logger.InfoContext(ctx, "two")
	sink.ClearBuffer("s")
	history, err = sink.History("s")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Contains(t, history[1], "two")
}

func TestUnknownSessionErrors(t *testing.T) {
	sink := NewSink()

	_, err := sink.Buffer("ghost")
	assert.ErrorContains(t, err, "unknown session: ghost")
	_, err = sink.History("ghost")
	assert.ErrorContains(t, err, "unknown session: ghost")
}

func TestRecordsWithoutSessionBypassSink(t *testing.T) {
	var out bytes.Buffer
	sink := NewSink()
	logger := slog.New(sink.Handler(slog.NewTextHandler(&out, nil)))

	logger.Info("no session attached")

	assert.Empty(t, sink.ActiveSessions())
	assert.Contains(t, out.String(), "no session attached", "wrapped handler still receives the record")
}

func TestCleanupForgetsSession(t *testing.T) {
	sink := NewSink()
	logger := slog.New(sink.Handler(nil))
	ctx := WithSession(context.Background(), "s")

	logger.InfoContext(ctx, "line")
	assert.Equal(t, []string{"s"}, sink.ActiveSessions())

	sink.Cleanup("s")
	assert.Empty(t, sink.ActiveSessions())
	_, err := sink.Buffer("s")
	assert.Error(t, err)
}

func TestClearHistoryKeepsSessionActive(t *testing.T) {
	sink := NewSink()
	logger := slog.New(sink.Handler(nil))
	ctx := WithSession(context.Background(), "s")

	logger.InfoContext(ctx, "line")
	_, err := sink.Buffer("s")
	require.NoError(t, err)

	sink.ClearHistory("s")
	history, err := sink.History("s")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, []string{"s"}, sink.ActiveSessions())
}

func TestActiveSessionsSorted(t *testing.T) {
	sink := NewSink()
	logger := slog.New(sink.Handler(nil))
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		logger.InfoContext(WithSession(context.Background(), id), "hello")
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, sink.ActiveSessions())
}

func TestHandlerWithAttrs(t *testing.T) {
	sink := NewSink()
	logger := slog.New(sink.Handler(nil)).With("agent", "mcp")
	ctx := WithSession(context.Background(), "s")

	logger.InfoContext(ctx, "request")

	lines, err := sink.Buffer("s")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "agent=mcp")
}

func TestHandlerWithGroupPrefixesKeys(t *testing.T) {
	sink := NewSink()
	logger := slog.New(sink.Handler(nil)).WithGroup("llm")
	ctx := WithSession(context.Background(), "s")

	logger.InfoContext(ctx, "request", "model", "gpt")

	lines, err := sink.Buffer("s")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "llm.model=gpt")
}
