// Package usecase contains application business logic: context tracking,
// frame fan-out and the focus analyzer state machine.
package usecase

import (
	"regexp"
	"strings"
)

var (
	// 1:02, 12:34:56
	clockPattern = regexp.MustCompile(`\b\d{1,2}:\d{2}(:\d{2})?\b`)
	// 3s, 12 min, 450ms, 2h
	durationPattern = regexp.MustCompile(`(?i)\b\d+\s?(ms|s|sec|secs|m|min|mins|h|hr|hrs)\b`)
	// (3) Inbox, [12] Slack
	counterPattern = regexp.MustCompile(`^\s*[\(\[]\d+\+?[\)\]]\s*`)
	// 45%, 99.5%
	percentPattern = regexp.MustCompile(`\b\d{1,3}(\.\d+)?%`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// spinnerGlyphs are characters apps animate in titles to signal activity.
const spinnerGlyphs = "◐◓◑◒◴◷◶◵⣾⣽⣻⢿⡿⣟⣯⣷●•◉○✱✳⏳⌛"

// NormalizeTitle strips volatile title fragments (timers, spinners, unread
// counters, progress percentages) so that cosmetic churn compares equal.
func NormalizeTitle(title string) string {
	t := counterPattern.ReplaceAllString(title, "")
	t = clockPattern.ReplaceAllString(t, "")
	t = durationPattern.ReplaceAllString(t, "")
	t = percentPattern.ReplaceAllString(t, "")
	t = strings.Map(func(r rune) rune {
		// Braille patterns are the usual terminal spinner frames.
		if r >= 0x2800 && r <= 0x28FF {
			return -1
		}
		if strings.ContainsRune(spinnerGlyphs, r) {
			return -1
		}
		return r
	}, t)
	t = spacePattern.ReplaceAllString(t, " ")
	t = strings.Trim(t, " -–—|·:")
	return strings.ToLower(t)
}

// DidContextChange reports whether moving from (prevApp, prevTitle) to
// (newApp, newTitle) is a context switch. App changes always count; title
// changes count only if they survive normalization.
func DidContextChange(prevApp, prevTitle, newApp, newTitle string) bool {
	if !strings.EqualFold(strings.TrimSpace(prevApp), strings.TrimSpace(newApp)) {
		return true
	}
	return NormalizeTitle(prevTitle) != NormalizeTitle(newTitle)
}
