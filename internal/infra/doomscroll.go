package infra

import (
	"context"
	"strings"

	"github.com/wardenhq/warden/internal/domain"
)

// browserTriggers are URL fragments that mark short-form content reached
// through a browser (feeds often hide the address bar on scroll, so the
// page title text is matched too).
var browserTriggers = []string{
	"instagram.com", "m.instagram",
	"youtube.com/shorts", "m.youtube.com/shorts",
	"tiktok.com", "facebook.com/reel",
}

// dmIndicators mark direct-message surfaces, which are allowed even when
// the feed is not.
var dmIndicators = []string{
	"Type a message", "Message...", "Active now", "Voice message",
}

// HeuristicClassifier flags short-form/ambient content from on-screen
// markers alone, with no network dependency. It covers the doomscroll
// predicate; the focus predicate needs a real language model and is
// delegated (see OllamaClassifier).
type HeuristicClassifier struct {
	fallback domain.Classifier // consulted for MatchesFocus; may be nil
}

// NewHeuristicClassifier creates the marker-based classifier. The
// fallback handles focus classification; pass nil to fail closed on
// study-mode checks.
func NewHeuristicClassifier(fallback domain.Classifier) *HeuristicClassifier {
	return &HeuristicClassifier{fallback: fallback}
}

// IsDoomscroll reports whether the screen shows a shorts/reel player or
// a known feed URL.
func (c *HeuristicClassifier) IsDoomscroll(_ context.Context, pkg string, screenText []string) (bool, error) {
	combined := strings.Join(screenText, " ")
	lower := strings.ToLower(combined)

	if strings.Contains(pkg, "youtube") {
		if strings.Contains(combined, "reel_recycler") || strings.Contains(combined, "reel_player") {
			return true, nil
		}
	}

	if strings.Contains(pkg, "instagram") {
		for _, marker := range dmIndicators {
			if strings.Contains(combined, marker) {
				return false, nil
			}
		}
		return true, nil
	}

	if strings.Contains(pkg, "chrome") || strings.Contains(pkg, "browser") {
		for _, trigger := range browserTriggers {
			if strings.Contains(lower, trigger) {
				return true, nil
			}
		}
		// Browsers hide the URL bar on scroll; shorts text next to
		// browser chrome is still a feed.
		if strings.Contains(lower, "shorts") &&
			(strings.Contains(lower, "address bar") || strings.Contains(lower, "tab")) {
			return true, nil
		}
	}

	return false, nil
}

// MatchesFocus delegates to the language-model classifier.
func (c *HeuristicClassifier) MatchesFocus(ctx context.Context, screenText []string, persona, focus string) (bool, error) {
	if c.fallback == nil {
		return false, domain.ErrClassifierUnavailable
	}
	return c.fallback.MatchesFocus(ctx, screenText, persona, focus)
}

// Ensure HeuristicClassifier implements domain.Classifier.
var _ domain.Classifier = (*HeuristicClassifier)(nil)
