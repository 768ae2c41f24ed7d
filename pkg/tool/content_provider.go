package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/reagent-dev/reagent/pkg/schema"
)

const (
	// DefaultChunkSize bounds the byte length of a stored text chunk.
	DefaultChunkSize = 4000
	maxStoreID       = 100
)

// contentStore is the process-wide chunk store. Store ids wrap around at the
// capacity, silently overwriting the oldest entry.
type contentStore struct {
	mu      sync.Mutex
	stores  map[string][]schema.Part
	nextID  int
}

var sharedContentStore = &contentStore{stores: make(map[string][]schema.Part)}

// ContentProvider saves oversized content and serves it back in pages. The
// agent also uses it directly to spill tool outputs that would blow the token
// budget.
type ContentProvider struct {
	store *contentStore
}

// NewContentProvider returns a provider bound to the shared process store.
func NewContentProvider() *ContentProvider {
	return &ContentProvider{store: sharedContentStore}
}

func (p *ContentProvider) Name() string { return "content_provider" }

func (p *ContentProvider) Description() string {
	return "Use this tool to save temporary content for later use. For example, you can save a large code file (like HTML) and read it by chunks later."
}

func (p *ContentProvider) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"description": "The operation to perform: `write` to save content, `read` to retrieve content",
				"enum":        []string{"write", "read"},
			},
			"content": map[string]any{
				"type":        "array",
				"description": "The content to store. Required when operation is `write` (the `read` operation will return the same format). Format: [{'type': 'text', 'text': <content>}, {'type': 'image_url', 'image_url': {'url': <image_url>}}]",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type": map[string]any{
							"type": "string",
							"enum": []string{"text", "image_url"},
						},
						"text": map[string]any{
							"type":        "string",
							"description": "Text content. Required when type is `text`.",
						},
						"image_url": map[string]any{
							"type":        "object",
							"description": "Image URL information. Required when type is `image_url`.",
							"properties": map[string]any{
								"url": map[string]any{
									"type":        "string",
									"description": "URL of the image",
								},
							},
						},
					},
				},
			},
			"cursor": map[string]any{
				"type":        "string",
				"description": "The cursor position for reading content. Required when operation is `read`. Use `start` for the beginning or the cursor returned from a previous read.",
			},
			"max_chunk_size": map[string]any{
				"type":        "integer",
				"description": "Maximum size in characters for each text chunk. Default is 4000. Used by `write` operation.",
				"default":     DefaultChunkSize,
			},
		},
		"required": []string{"operation"},
	}
}

func (p *ContentProvider) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	operation := stringArg(args, "operation")
	switch operation {
	case "write":
		return p.Write(args), nil
	case "read":
		return p.Read(args), nil
	case "":
		return Error("`operation` is required"), nil
	default:
		return Errorf("Unknown operation `%s`. Please use `write` or `read`", operation), nil
	}
}

// Write coalesces adjacent text parts, splits them into bounded chunks and
// stores the result under a fresh wrap-around id.
func (p *ContentProvider) Write(args map[string]any) ToolResult {
	maxChunkSize := intArg(args, "max_chunk_size", DefaultChunkSize)
	parts, result := contentParts(args)
	if result != nil {
		return *result
	}

	var processed []schema.Part
	var pending []string
	flush := func() {
		if len(pending) == 0 {
			return
		}
		for _, chunk := range SplitTextIntoChunks(strings.Join(pending, "\n\n"), maxChunkSize) {
			processed = append(processed, schema.TextPart(chunk))
		}
		pending = pending[:0]
	}
	for _, part := range parts {
		switch part.Type {
		case "text":
			pending = append(pending, part.Text)
		case "image_url":
			if part.ImageURL == nil || part.ImageURL.URL == "" {
				return Error("Image items must have an `image_url` field with a `url` property")
			}
			flush()
			processed = append(processed, part)
		default:
			return Errorf("Unsupported content type: %s", part.Type)
		}
	}
	flush()

	p.store.mu.Lock()
	storeID := fmt.Sprintf("content_%d", p.store.nextID)
	p.store.nextID = (p.store.nextID + 1) % maxStoreID
	p.store.stores[storeID] = processed
	p.store.mu.Unlock()

	payload, _ := json.MarshalIndent(map[string]any{
		"store_id":    storeID,
		"total_items": len(processed),
	}, "", "  ")
	return Text(string(payload))
}

// Read pages through stored content following the cursor protocol.
func (p *ContentProvider) Read(args map[string]any) ToolResult {
	cursor, ok := args["cursor"].(string)
	if !ok {
		return Error("`cursor` is required for read operations")
	}

	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	switch {
	case cursor == "start":
		if len(p.store.stores) == 0 {
			return Text("No content available. Use `write` operation to store content first.")
		}
		ids := make([]string, 0, len(p.store.stores))
		for id := range p.store.stores {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		available := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			available = append(available, map[string]any{
				"store_id":    id,
				"total_items": len(p.store.stores[id]),
			})
		}
		payload, _ := json.MarshalIndent(map[string]any{
			"available_stores": available,
			"next_cursor":      "select_store",
		}, "", "  ")
		return Text(string(payload))

	case cursor == "select_store":
		return Error("Please provide a store_id as cursor in format `content_X:Y`")

	case strings.Contains(cursor, ":"):
		storeID, indexStr, _ := strings.Cut(cursor, ":")
		index, err := strconv.Atoi(indexStr)
		if err != nil || index < 0 {
			return Error("Invalid cursor format")
		}
		content, exists := p.store.stores[storeID]
		if !exists {
			return Errorf("Store ID `%s` not found", storeID)
		}
		if index >= len(content) {
			return Error("Index out of range")
		}
		entry := map[string]any{
			"type": content[index].Type,
		}
		if content[index].Type == "text" {
			entry["text"] = content[index].Text
		} else if content[index].ImageURL != nil {
			entry["image_url"] = map[string]any{"url": content[index].ImageURL.URL}
		}
		if index+1 < len(content) {
			entry["next_cursor"] = fmt.Sprintf("%s:%d", storeID, index+1)
			entry["remaining_items"] = len(content) - index - 1
		} else {
			entry["next_cursor"] = "end"
			entry["remaining_items"] = 0
		}
		payload, _ := json.MarshalIndent(entry, "", "  ")
		return Text(string(payload))

	case cursor == "end":
		return Text("You have reached the end of the content.")

	default:
		return Error("Invalid cursor format")
	}
}

func contentParts(args map[string]any) ([]schema.Part, *ToolResult) {
	raw, exists := args["content"]
	if !exists {
		r := Error("`content` is required and must be an array")
		return nil, &r
	}
	encoded, err := json.Marshal(raw)
	if err != nil || !strings.HasPrefix(strings.TrimSpace(string(encoded)), "[") {
		r := Error("`content` is required and must be an array")
		return nil, &r
	}
	var parts []schema.Part
	if err := json.Unmarshal(encoded, &parts); err != nil {
		r := Error("Each content item must have a `type` field")
		return nil, &r
	}
	for _, part := range parts {
		if part.Type == "" {
			r := Error("Each content item must have a `type` field")
			return nil, &r
		}
	}
	return parts, nil
}

// SplitTextIntoChunks cuts text into pieces of at most maxChunkSize bytes.
// Cuts never land inside a UTF-8 sequence and prefer a trailing whitespace or
// punctuation boundary, searching back at most half the chunk.
func SplitTextIntoChunks(text string, maxChunkSize int) []string {
	if text == "" || maxChunkSize <= 0 {
		return nil
	}
	data := []byte(text)
	var chunks []string
	offset := 0
	for offset < len(data) {
		end := offset + maxChunkSize
		if end >= len(data) {
			chunks = append(chunks, string(data[offset:]))
			break
		}
		for end > offset && !utf8.RuneStart(data[end]) {
			end--
		}
		minPos := offset + (end-offset)/2
		breakPos := end
		for breakPos > minPos && !isBreakByte(data[breakPos-1]) {
			breakPos--
		}
		if breakPos > minPos {
			end = breakPos
		}
		chunks = append(chunks, string(data[offset:end]))
		offset = end
	}
	return chunks
}

func isBreakByte(b byte) bool {
	switch b {
	case ' ', '\n', '.', ',', ';', ':', '!', '?':
		return true
	}
	return false
}
