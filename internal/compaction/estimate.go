// Package compaction bounds transcript size by replacing the older part of a
// conversation with a model-written summary.
package compaction

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/hulunote/hulunote/pkg/models"
)

const (
	// CharsPerToken is the approximate character-to-token ratio for estimation.
	CharsPerToken = 4

	// MinKeepMessages is the smallest recent suffix kept verbatim.
	MinKeepMessages = 4

	// KeepRatio is the share of messages, by count, kept verbatim.
	KeepRatio = 0.25
)

// EstimateTokens estimates a transcript's token count: text content plus the
// serialized tool calls, divided by CharsPerToken and rounded up.
func EstimateTokens(messages []models.Message) int {
	chars := 0
	for _, msg := range messages {
		chars += utf8.RuneCountInString(msg.Content)
		if len(msg.ToolCalls) > 0 {
			if data, err := json.Marshal(msg.ToolCalls); err == nil {
				chars += utf8.RuneCount(data)
			}
		}
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// KeepCount returns how many recent messages survive compaction of n messages.
func KeepCount(n int) int {
	keep := int(float64(n) * KeepRatio)
	if keep < MinKeepMessages {
		keep = MinKeepMessages
	}
	return keep
}

// Split divides messages into the older prefix to summarize and the recent
// suffix kept verbatim. The prefix is empty when there are no more than
// KeepCount messages.
func Split(messages []models.Message) (older, recent []models.Message) {
	keep := KeepCount(len(messages))
	if keep >= len(messages) {
		return nil, messages
	}
	cut := len(messages) - keep
	return messages[:cut], messages[cut:]
}
