package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Part is a single typed segment of multi-part message content.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image, usually as a base64 data URL.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// TextPart builds a text segment.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// ImagePart builds an image_url segment.
func ImagePart(url string) Part {
	return Part{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// Content holds message content as either a plain string or an ordered list
// of typed parts. The zero value is empty content.
type Content struct {
	Text  string
	Parts []Part
}

// TextContent builds string content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// PartsContent builds multi-part content.
func PartsContent(parts ...Part) Content {
	return Content{Parts: parts}
}

// Multi reports whether the content is the parts form.
func (c Content) Multi() bool { return c.Parts != nil }

// Empty reports whether there is no content at all.
func (c Content) Empty() bool { return c.Text == "" && len(c.Parts) == 0 }

// MarshalJSON emits a bare string for text content and an array for parts.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Multi() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either a string, an array of parts, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*c = Content{}
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var parts []Part
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{Parts: parts}
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	*c = Content{Text: text}
	return nil
}

// Concat joins two contents. Two plain strings join with a newline; any other
// combination yields a parts list preserving order.
func Concat(lhs, rhs Content) Content {
	if !lhs.Multi() && !rhs.Multi() {
		switch {
		case lhs.Text == "":
			return rhs
		case rhs.Text == "":
			return lhs
		default:
			return Content{Text: lhs.Text + "\n" + rhs.Text}
		}
	}
	var parts []Part
	appendSide := func(c Content) {
		if c.Multi() {
			parts = append(parts, c.Parts...)
		} else if c.Text != "" {
			parts = append(parts, TextPart(c.Text))
		}
	}
	appendSide(lhs)
	appendSide(rhs)
	return Content{Parts: parts}
}

// AppendText adds text to the content in place, keeping its current form.
func (c *Content) AppendText(text string) {
	if text == "" {
		return
	}
	if c.Multi() {
		c.Parts = append(c.Parts, TextPart(text))
		return
	}
	if c.Text == "" {
		c.Text = text
		return
	}
	c.Text = c.Text + "\n\n" + text
}

// Plain flattens content into a single string. Image parts are replaced by
// ordinal placeholders.
func (c Content) Plain() string {
	if !c.Multi() {
		return c.Text
	}
	var b strings.Builder
	imageIdx := 0
	for _, part := range c.Parts {
		switch part.Type {
		case "text":
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(part.Text)
		case "image_url":
			imageIdx++
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(fmt.Sprintf("[image%d]", imageIdx))
		}
	}
	return b.String()
}
