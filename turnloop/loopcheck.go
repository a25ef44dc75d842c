package turnloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/mhalvorsen/turnstile/modelcall"
)

// toolCallSignature computes a deterministic signature for a tool call
// (name + hash of arguments).
func toolCallSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentToolCallSignatures extracts signatures from the most recent tool
// calls in the history, in chronological order.
func recentToolCallSignatures(msgs []modelcall.Message, count int) []string {
	var sigs []string
	for i := len(msgs) - 1; i >= 0 && len(sigs) < count; i-- {
		if msgs[i].Role != modelcall.RoleAssistant {
			continue
		}
		calls := msgs[i].ToolCalls
		for j := len(calls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, toolCallSignature(calls[j].Name, calls[j].Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks whether the last windowSize tool calls follow a
// repeating pattern of length 1, 2, or 3.
func DetectLoop(msgs []modelcall.Message, windowSize int) bool {
	sigs := recentToolCallSignatures(msgs, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
			if !allMatch {
				break
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}
