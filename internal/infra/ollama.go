package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/domain"
)

// OllamaClassifier asks a local language model for the focus and
// doomscroll verdicts and for agent task planning. Any transport or
// decode failure surfaces as ErrClassifierUnavailable so callers fail
// closed.
type OllamaClassifier struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// NewOllamaClassifier creates a classifier against an Ollama server.
func NewOllamaClassifier(baseURL, model string, logger *zap.Logger) *OllamaClassifier {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5"
	}
	return &OllamaClassifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *OllamaClassifier) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", domain.ErrClassifierUnavailable, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, err)
	}
	return strings.TrimSpace(out.Response), nil
}

// MatchesFocus classifies the visible content as RELEVANT or DISTRACTION
// for the configured persona and focus.
func (c *OllamaClassifier) MatchesFocus(ctx context.Context, screenText []string, persona, focus string) (bool, error) {
	content := cleanForModel(screenText)
	if len(content) < 10 {
		// Too little text to judge; let the caller treat it as neutral.
		return true, nil
	}

	prompt := fmt.Sprintf(
		"User Persona: %s\nUser Focus: %s\nVideo Title: %s\n"+
			"Ignore content that looks like sponsored advertisement.\n"+
			"Task: Classify as RELEVANT or DISTRACTION. Reply with one word only.",
		persona, focus, content)

	verdict, err := c.complete(ctx, prompt)
	if err != nil {
		return false, err
	}
	c.logger.Debug("focus verdict", zap.String("verdict", verdict))
	return !strings.Contains(strings.ToUpper(verdict), "DISTRACTION"), nil
}

// IsDoomscroll asks the model whether the screen is short-form feed
// content. The marker-based classifier is cheaper and preferred; this
// exists so the model can be the sole classifier where markers fail.
func (c *OllamaClassifier) IsDoomscroll(ctx context.Context, pkg string, screenText []string) (bool, error) {
	content := cleanForModel(screenText)
	if len(content) < 10 {
		return false, nil
	}

	prompt := fmt.Sprintf(
		"App: %s\nScreen text: %s\n"+
			"Task: Is this short-form feed content (shorts, reels, endless scroll)? "+
			"Reply YES or NO only.",
		pkg, content)

	verdict, err := c.complete(ctx, prompt)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToUpper(verdict), "YES"), nil
}

// Plan translates a free-text task into an ordered action list. The model
// is asked for a JSON array; anything else is a planning failure.
func (c *OllamaClassifier) Plan(ctx context.Context, prompt string) ([]domain.Action, error) {
	request := fmt.Sprintf(
		"You control an Android device. Task: %s\n"+
			"Reply with ONLY a JSON array of actions. Each action is an object with "+
			`"kind" (one of HOME, BACK, OPEN_APP, TAP, TYPE, WAIT) and optional `+
			`"target" (package for OPEN_APP, text for TYPE), "x"/"y" (for TAP), `+
			`"millis" (for WAIT). No prose.`,
		prompt)

	reply, err := c.complete(ctx, request)
	if err != nil {
		return nil, err
	}

	raw := extractJSONArray(reply)
	if raw == "" {
		return nil, fmt.Errorf("planner returned no action list: %q", truncate(reply, 120))
	}
	var actions []domain.Action
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, fmt.Errorf("planner returned malformed actions: %w", err)
	}
	return actions, nil
}

var timestampRe = regexp.MustCompile(`\d+:\d+`)

// cleanForModel strips resource ids, timestamps and UI chrome from the
// screen text before it is sent to the model.
func cleanForModel(screenText []string) string {
	noise := map[string]bool{
		"more_vert": true, "Search": true, "Close": true,
		"Minimize": true, "Cast": true,
	}
	var lines []string
	for _, line := range screenText {
		if strings.Contains(line, "com.") || strings.Contains(line, "android.") {
			continue
		}
		if timestampRe.MatchString(line) || noise[line] {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, " | ")
}

func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Ensure OllamaClassifier implements the model-backed capabilities.
var (
	_ domain.Classifier = (*OllamaClassifier)(nil)
	_ domain.Planner    = (*OllamaClassifier)(nil)
)
