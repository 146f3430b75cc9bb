package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/engine"
	"github.com/wardenhq/warden/internal/usecase"
)

// stubDetector implements domain.ForegroundDetector for testing
type stubDetector struct{}

func (stubDetector) Sample(ctx context.Context) (domain.ForegroundSample, error) {
	return domain.ForegroundSample{}, nil
}

// stubAutomator implements domain.DeviceAutomator for testing
type stubAutomator struct{}

func (stubAutomator) Home(ctx context.Context) error { return nil }

func (stubAutomator) Back(ctx context.Context) error { return nil }

func (stubAutomator) LaunchApp(ctx context.Context, pkg string) error { return nil }

func (stubAutomator) Tap(ctx context.Context, x, y int) error { return nil }

func (stubAutomator) Type(ctx context.Context, text string) error { return nil }

// stubClassifier implements domain.Classifier for testing
type stubClassifier struct{}

func (stubClassifier) IsDoomscroll(ctx context.Context, pkg string, screenText []string) (bool, error) {
	return false, nil
}

func (stubClassifier) MatchesFocus(ctx context.Context, screenText []string, persona, focus string) (bool, error) {
	return true, nil
}

// stubPlanner implements domain.Planner for testing
type stubPlanner struct {
	actions []domain.Action
	err     error
	block   chan struct{} // Plan waits on it when set
	started chan struct{}
}

func (p *stubPlanner) Plan(ctx context.Context, prompt string) ([]domain.Action, error) {
	if p.started != nil {
		close(p.started)
		p.started = nil
	}
	if p.block != nil {
		<-p.block
	}
	return p.actions, p.err
}

func newTestServer(t *testing.T, planner domain.Planner) *Server {
	t.Helper()
	logger := zap.NewNop()
	eng := engine.New(
		engine.Config{TickInterval: 5 * time.Millisecond, FlushInterval: time.Hour},
		stubDetector{},
		usecase.NewEvaluator(stubClassifier{}, logger),
		usecase.NewPunisher(stubAutomator{}, logger),
		nil,
		logger,
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = eng.Run(ctx) }()

	if planner == nil {
		planner = &stubPlanner{actions: []domain.Action{{Kind: domain.ActionHome}}}
	}
	bridge := agent.NewBridge(planner, stubAutomator{}, logger)
	return New(":0", eng, bridge, logger)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

// TestStatusEndpoint verifies the initial snapshot shape
func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap engine.StatusSnapshot
	decodeBody(t, rec, &snap)
	assert.False(t, snap.Running)
	assert.Equal(t, "Waiting...", snap.CurrentApp)
	assert.Equal(t, "SAFE", snap.LastVerdict)
}

// TestStartStopEndpoints verifies the enforcement toggle round-trip
func TestStartStopEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Started", resp["status"])

	var snap engine.StatusSnapshot
	decodeBody(t, doRequest(t, s, http.MethodGet, "/status", nil), &snap)
	assert.True(t, snap.Running)

	rec = doRequest(t, s, http.MethodPost, "/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Stopped", resp["status"])
}

// TestAppsEndpoints verifies rule update and listing
func TestAppsEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/apps/com.instagram.android",
		map[string]interface{}{"limit": 45, "blocked": false})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "com.instagram.android", resp["package"])

	rec = doRequest(t, s, http.MethodGet, "/apps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var apps []engine.AppView
	decodeBody(t, rec, &apps)
	require.Len(t, apps, 1)
	assert.Equal(t, "com.instagram.android", apps[0].Package)
	assert.Equal(t, 45, apps[0].LimitMins)
	assert.Zero(t, apps[0].UsedMins)
}

// TestAppsEndpoint_InvalidLimit verifies validation maps to 422
func TestAppsEndpoint_InvalidLimit(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/apps/com.app",
		map[string]interface{}{"limit": -5})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// TestConfigEndpoints verifies partial config updates keep absent fields
func TestConfigEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	var before domain.GlobalConfig
	decodeBody(t, doRequest(t, s, http.MethodGet, "/config", nil), &before)
	require.Equal(t, 3, before.MaxStrikes)

	rec := doRequest(t, s, http.MethodPost, "/config",
		map[string]interface{}{"study_mode": true, "grace_period": 20})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string              `json:"status"`
		Config domain.GlobalConfig `json:"config"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Updated", resp.Status)
	assert.True(t, resp.Config.StudyMode)
	assert.True(t, resp.Config.DoomscrollMode, "study mode forces the doomscroll guard")
	assert.Equal(t, 20, resp.Config.GracePeriodSecs)
	assert.Equal(t, 3, resp.Config.MaxStrikes, "absent fields keep prior values")
	assert.Equal(t, before.Persona, resp.Config.Persona)
}

// TestConfigEndpoint_InvalidPunishment verifies OPEN_APP without a target
// is rejected with 422 and the config stands
func TestConfigEndpoint_InvalidPunishment(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/config",
		map[string]interface{}{"punishment_type": "OPEN_APP"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var cfg domain.GlobalConfig
	decodeBody(t, doRequest(t, s, http.MethodGet, "/config", nil), &cfg)
	assert.Equal(t, domain.PunishHome, cfg.PunishmentType)
}

// TestScheduleEndpoints verifies the create, list, delete round-trip with
// identical wire fields
func TestScheduleEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	body := map[string]interface{}{
		"start_time":      "19:00",
		"end_time":        "21:30",
		"label":           "Homework",
		"study_mode":      true,
		"doomscroll_mode": false,
		"punishment_type": "HOME",
	}
	rec := doRequest(t, s, http.MethodPost, "/schedule", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]interface{}
	decodeBody(t, rec, &created)
	assert.Equal(t, "19:00", created["start_time"])
	assert.Equal(t, "21:30", created["end_time"])
	assert.Equal(t, "Homework", created["label"])
	assert.Equal(t, true, created["study_mode"])
	id := created["id"].(float64)
	assert.NotZero(t, id)

	var listed []map[string]interface{}
	decodeBody(t, doRequest(t, s, http.MethodGet, "/schedule", nil), &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, created, listed[0])

	rec = doRequest(t, s, http.MethodDelete, "/schedule/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	decodeBody(t, doRequest(t, s, http.MethodGet, "/schedule", nil), &listed)
	assert.Empty(t, listed)
}

// TestScheduleEndpoint_DeleteUnknown verifies 404 mapping
func TestScheduleEndpoint_DeleteUnknown(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodDelete, "/schedule/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestScheduleEndpoint_BadTime verifies time parsing maps to 422
func TestScheduleEndpoint_BadTime(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/schedule",
		map[string]interface{}{"start_time": "25:99", "end_time": "21:00"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// TestAnalyticsEndpoint verifies the empty-day shape
func TestAnalyticsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap usecase.AnalyticsSnapshot
	decodeBody(t, rec, &snap)
	assert.Zero(t, snap.TotalTimeMins)
	assert.Zero(t, snap.TotalStrikes)
	assert.NotNil(t, snap.Breakdown)
	assert.Empty(t, snap.Breakdown)
}

// TestAgentEndpoints verifies status reporting and synchronous execution
func TestAgentEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/agent/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var task domain.AgentTask
	decodeBody(t, rec, &task)
	assert.Equal(t, domain.TaskPending, task.Status)

	rec = doRequest(t, s, http.MethodPost, "/agent/execute",
		map[string]string{"prompt": "go home"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "SUCCESS", resp["status"])
	assert.Equal(t, "completed 1 actions", resp["output"])

	decodeBody(t, doRequest(t, s, http.MethodGet, "/agent/status", nil), &task)
	assert.Equal(t, domain.TaskSuccess, task.Status)
}

// TestAgentExecute_EmptyPrompt verifies 422 on a missing prompt
func TestAgentExecute_EmptyPrompt(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, "/agent/execute",
		map[string]string{"prompt": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// TestAgentExecute_BusyConflict verifies a concurrent task maps to 409
func TestAgentExecute_BusyConflict(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	planner := &stubPlanner{
		actions: []domain.Action{{Kind: domain.ActionHome}},
		block:   block,
		started: started,
	}
	s := newTestServer(t, planner)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- doRequest(t, s, http.MethodPost, "/agent/execute",
			map[string]string{"prompt": "first"})
	}()

	<-started
	rec := doRequest(t, s, http.MethodPost, "/agent/execute",
		map[string]string{"prompt": "second"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(block)
	assert.Equal(t, http.StatusOK, (<-first).Code)
}
