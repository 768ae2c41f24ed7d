package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func writeContent(t *testing.T, p *ContentProvider, text string, maxChunkSize int) (string, int) {
	t.Helper()
	result, err := p.Execute(context.Background(), map[string]any{
		"operation":      "write",
		"content":        []any{map[string]any{"type": "text", "text": text}},
		"max_chunk_size": maxChunkSize,
	})
	if err != nil {
		t.Fatalf("write returned error: %v", err)
	}
	if result.Failed() {
		t.Fatalf("write failed: %s", result.Error)
	}
	var payload struct {
		StoreID    string `json:"store_id"`
		TotalItems int    `json:"total_items"`
	}
	if err := json.Unmarshal([]byte(result.String()), &payload); err != nil {
		t.Fatalf("write output is not JSON: %v", err)
	}
	return payload.StoreID, payload.TotalItems
}

func readChunk(t *testing.T, p *ContentProvider, cursor string) (text, next string) {
	t.Helper()
	result, err := p.Execute(context.Background(), map[string]any{
		"operation": "read",
		"cursor":    cursor,
	})
	if err != nil {
		t.Fatalf("read returned error: %v", err)
	}
	if result.Failed() {
		t.Fatalf("read %s failed: %s", cursor, result.Error)
	}
	var payload struct {
		Text       string `json:"text"`
		NextCursor string `json:"next_cursor"`
	}
	if err := json.Unmarshal([]byte(result.String()), &payload); err != nil {
		t.Fatalf("read output is not JSON: %v", err)
	}
	return payload.Text, payload.NextCursor
}

func TestContentProviderSplitAndPage(t *testing.T) {
	p := NewContentProvider()
	storeID, total := writeContent(t, p, strings.Repeat("x", 10000), 4000)
	if total != 3 {
		t.Fatalf("total_items = %d, want 3", total)
	}

	wantLens := []int{4000, 4000, 2000}
	cursor := storeID + ":0"
	var joined strings.Builder
	for i, want := range wantLens {
		text, next := readChunk(t, p, cursor)
		if len(text) != want {
			t.Errorf("chunk %d length = %d, want %d", i, len(text), want)
		}
		joined.WriteString(text)
		cursor = next
	}
	if cursor != "end" {
		t.Errorf("final next_cursor = %q, want end", cursor)
	}
	if joined.String() != strings.Repeat("x", 10000) {
		t.Error("rejoined chunks do not reproduce the original text")
	}
}

func TestContentProviderReadErrors(t *testing.T) {
	p := NewContentProvider()
	storeID, total := writeContent(t, p, "short text", 4000)
	if total != 1 {
		t.Fatalf("total_items = %d, want 1", total)
	}
	ctx := context.Background()

	result, _ := p.Execute(ctx, map[string]any{"operation": "read", "cursor": "no_such_store:0"})
	if !result.Failed() {
		t.Error("read of unknown store should fail")
	}
	result, _ = p.Execute(ctx, map[string]any{"operation": "read", "cursor": storeID + ":5"})
	if !result.Failed() {
		t.Error("read past the end should fail")
	}
	result, _ = p.Execute(ctx, map[string]any{"operation": "read", "cursor": "select_store"})
	if !result.Failed() {
		t.Error("select_store cursor should ask for a store id")
	}
}

func TestSplitTextIntoChunksPrefersBreaks(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta. ", 300)
	chunks := SplitTextIntoChunks(text, 1000)
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks do not concatenate to the original text")
	}
	for i, chunk := range chunks {
		if len(chunk) > 1000 {
			t.Errorf("chunk %d length = %d, exceeds 1000", i, len(chunk))
		}
		if i < len(chunks)-1 && !isBreakByte(chunk[len(chunk)-1]) {
			t.Errorf("chunk %d does not end on a break byte", i)
		}
	}
}

func TestSplitTextIntoChunksUTF8Safe(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 500)
	chunks := SplitTextIntoChunks(text, 257)
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks do not concatenate to the original text")
	}
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d splits a UTF-8 sequence", i)
		}
	}
}

func TestTerminateResult(t *testing.T) {
	result, err := Terminate{}.Execute(context.Background(), map[string]any{"status": "success"})
	if err != nil {
		t.Fatalf("terminate returned error: %v", err)
	}
	want := "The interaction has been completed with status: success"
	if result.String() != want {
		t.Errorf("terminate output = %q, want %q", result.String(), want)
	}
}

func TestCollectionUnknownTool(t *testing.T) {
	c := MustCollection(Terminate{})
	result := c.Execute(context.Background(), "zzz", nil)
	if !result.Failed() {
		t.Fatal("unknown tool should fail")
	}
	if !strings.HasPrefix(result.Error, "Unknown tool `zzz`") {
		t.Errorf("error = %q, want Unknown tool prefix", result.Error)
	}
}
