// Package tokens estimates the token cost of conversation history.
//
// The estimate is a heuristic approximation, not a real tokenizer: different
// models tokenize differently, and this package only promises determinism and
// monotonicity in input size. It exists so the context budget guard can make
// a cheap, dependency-free sizing decision before every model call.
package tokens

import (
	"fmt"
	"math"

	"github.com/huangjh/streamagent/pkg/models"
)

const (
	// perMessageOverhead approximates the tokens consumed by role markers and
	// message framing in most chat formats.
	perMessageOverhead = 4

	// historyOverhead approximates the end-of-conversation framing tokens,
	// charged once per history.
	historyOverhead = 3

	// asciiCost is the per-character cost for ASCII text. Roughly four Latin
	// characters make one token; 0.5 leaves headroom for short words.
	asciiCost = 0.5

	// wideCost is the per-character cost for non-ASCII runes (CJK scripts,
	// emoji, combining symbols), which commonly expand to 1.5-2 tokens each.
	wideCost = 1.5
)

// EstimateString estimates the token cost of a single string.
// The per-string total is rounded up to the next integer.
func EstimateString(s string) int {
	if s == "" {
		return 0
	}
	var cost float64
	for _, r := range s {
		if r <= 127 {
			cost += asciiCost
		} else {
			cost += wideCost
		}
	}
	return int(math.Ceil(cost))
}

// EstimateMessage estimates the token cost of one message: a fixed base
// overhead plus the text, the role label, and every metadata key/value pair
// in its string form.
func EstimateMessage(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	total := perMessageOverhead
	total += EstimateString(msg.Content)
	total += EstimateString(string(msg.Role))
	for key, value := range msg.Metadata {
		total += EstimateString(key)
		if value != nil {
			total += EstimateString(fmt.Sprintf("%v", value))
		}
	}
	return total
}

// EstimateHistory estimates the total token cost of a conversation history,
// including the once-per-history framing overhead. An empty history costs
// nothing.
func EstimateHistory(msgs []*models.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	total := 0
	for _, msg := range msgs {
		total += EstimateMessage(msg)
	}
	return total + historyOverhead
}
