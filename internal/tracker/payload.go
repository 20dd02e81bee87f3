// Package tracker - payload.go extracts countable text from the host's
// prompt payload.
package tracker

import (
	"strings"

	"github.com/tidwall/gjson"
)

// promptText flattens a prompt payload into the text that gets counted.
// The host sends either a text-completion shape {"prompt": "..."} or a chat
// shape {"messages": [{"content": ...}]} where content is a string or an
// array of typed parts. Unknown shapes degrade to the raw payload so the
// exchange is estimated rather than dropped.
func promptText(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}

	if prompt := gjson.GetBytes(payload, "prompt"); prompt.Type == gjson.String {
		return prompt.String()
	}

	messages := gjson.GetBytes(payload, "messages")
	if !messages.IsArray() {
		return string(payload)
	}

	var sb strings.Builder
	messages.ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			sb.WriteString(content.String())
			sb.WriteByte('\n')
		case content.IsArray():
			content.ForEach(func(_, part gjson.Result) bool {
				if text := part.Get("text"); text.Type == gjson.String {
					sb.WriteString(text.String())
					sb.WriteByte('\n')
				}
				return true
			})
		}
		return true
	})
	return sb.String()
}
