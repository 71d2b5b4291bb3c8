package vaultjob

import (
	"strings"
	"unicode"
)

// noisePrefixes marks CLI output lines that carry no diagnostic value:
// startup banners, progress chatter, prompts.
var noisePrefixes = []string{
	"loading",
	"connecting",
	"connected",
	"logging in",
	"logged in",
	"executing",
	"version ",
	"copyright",
	"welcome",
	"usage:",
	">",
}

// CleanCLIMessage reduces verbose vault CLI output to the line a human
// would quote. Banner and progress lines are dropped; when the remaining
// text ends in a "context: message" chain, the final message wins.
func CleanCLIMessage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isBannerLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return ""
	}

	last := kept[len(kept)-1]
	if idx := strings.LastIndex(last, ": "); idx >= 0 {
		tail := strings.TrimSpace(last[idx+2:])
		if looksLikeMessage(tail) {
			return tail
		}
	}
	return last
}

func isBannerLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	// Rule lines: ====, ----, ****
	ruler := true
	for _, r := range trimmed {
		if r != '=' && r != '-' && r != '*' && r != '#' {
			ruler = false
			break
		}
	}
	if ruler {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, prefix := range noisePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// looksLikeMessage filters out tails that are codes or fragments rather
// than prose: it needs some length and at least one letter.
func looksLikeMessage(value string) bool {
	if len(value) < 4 {
		return false
	}
	for _, r := range value {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
