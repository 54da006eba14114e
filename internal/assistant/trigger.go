package assistant

import (
	"regexp"
	"strings"
)

const mentionToken = "@ai"

var mentionPattern = regexp.MustCompile(`(?i)@ai`)

// ShouldRespond reports whether the message mentions the assistant. The
// match is a plain substring test, so "@aiden" also triggers a reply.
func ShouldRespond(text string) bool {
	return strings.Contains(strings.ToLower(text), mentionToken)
}

// StripMention removes every mention of the assistant from text.
func StripMention(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// UserPrompt is the text sent to the model for a triggering message. A
// message that is nothing but mentions is sent as typed, since completion
// APIs reject an empty user turn.
func UserPrompt(text string) string {
	if s := StripMention(text); s != "" {
		return s
	}
	return strings.TrimSpace(text)
}
