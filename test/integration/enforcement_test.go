//go:build integration

package integration

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/api"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/engine"
	"github.com/wardenhq/warden/internal/infra"
	"github.com/wardenhq/warden/internal/usecase"
)

// fakeDevice simulates the phone: a settable foreground app plus counters
// for corrective actions.
type fakeDevice struct {
	mu        sync.Mutex
	sample    domain.ForegroundSample
	homeCalls int
}

func (d *fakeDevice) Sample(ctx context.Context) (domain.ForegroundSample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sample, nil
}

func (d *fakeDevice) setForeground(s domain.ForegroundSample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sample = s
}

func (d *fakeDevice) homes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.homeCalls
}

func (d *fakeDevice) Home(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.homeCalls++
	return nil
}

func (d *fakeDevice) Back(ctx context.Context) error                  { return nil }
func (d *fakeDevice) LaunchApp(ctx context.Context, pkg string) error { return nil }
func (d *fakeDevice) Tap(ctx context.Context, x, y int) error         { return nil }
func (d *fakeDevice) Type(ctx context.Context, text string) error     { return nil }

type fakePlanner struct{}

func (fakePlanner) Plan(ctx context.Context, prompt string) ([]domain.Action, error) {
	return []domain.Action{{Kind: domain.ActionHome}}, nil
}

// stack is one fully wired daemon instance over a shared data directory.
type stack struct {
	device *fakeDevice
	store  *infra.EncryptedStore
	engine *engine.Engine
	server *api.Server
	cancel context.CancelFunc
}

func startStack(dataDir string, key []byte) *stack {
	logger := zap.NewNop()

	store, err := infra.NewEncryptedStore(dataDir, key)
	Expect(err).NotTo(HaveOccurred())

	device := &fakeDevice{}
	classifier := infra.NewHeuristicClassifier(nil)
	eng := engine.New(
		engine.Config{TickInterval: 10 * time.Millisecond, FlushInterval: time.Hour},
		device,
		usecase.NewEvaluator(classifier, logger),
		usecase.NewPunisher(device, logger),
		store,
		logger,
	)
	bridge := agent.NewBridge(fakePlanner{}, device, logger)
	server := api.New(":0", eng, bridge, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()

	return &stack{device: device, store: store, engine: eng, server: server, cancel: cancel}
}

func (s *stack) stop() {
	s.cancel()
	Eventually(func() error {
		_, err := s.engine.Status()
		return err
	}, time.Second, 10*time.Millisecond).Should(MatchError(engine.ErrStopped))
	Expect(s.store.Close()).To(Succeed())
}

func (s *stack) request(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeInto(rec *httptest.ResponseRecorder, out interface{}) {
	Expect(json.Unmarshal(rec.Body.Bytes(), out)).To(Succeed())
}

var _ = Describe("Enforcement daemon", func() {
	var (
		dataDir string
		key     []byte
		s       *stack
	)

	BeforeEach(func() {
		dataDir = GinkgoT().TempDir()
		key = make([]byte, 32)
		_, err := rand.Read(key)
		Expect(err).NotTo(HaveOccurred())
		s = startStack(dataDir, key)
	})

	AfterEach(func() {
		s.stop()
	})

	Describe("blocking an app through the dashboard", func() {
		It("punishes the blocked app once enforcement runs", func() {
			rec := s.request(http.MethodPost, "/apps/com.zhiliaoapp.musically",
				map[string]interface{}{"limit": 0, "blocked": true})
			Expect(rec.Code).To(Equal(http.StatusOK))

			s.device.setForeground(domain.ForegroundSample{
				Package: "com.zhiliaoapp.musically", Name: "TikTok",
			})

			Expect(s.request(http.MethodPost, "/start", nil).Code).To(Equal(http.StatusOK))

			Eventually(s.device.homes, 2*time.Second, 10*time.Millisecond).
				Should(BeNumerically(">=", 1))

			var snap engine.StatusSnapshot
			decodeInto(s.request(http.MethodGet, "/status", nil), &snap)
			Expect(snap.Running).To(BeTrue())
			Expect(snap.CurrentApp).To(Equal("TikTok"))
			Expect(snap.LastVerdict).To(ContainSubstring("PUNISHED"))
		})
	})

	Describe("ambient content under the doomscroll guard", func() {
		It("strikes and punishes a shorts player immediately", func() {
			s.device.setForeground(domain.ForegroundSample{
				Package:    "com.google.android.youtube",
				Name:       "YouTube",
				ScreenText: []string{"reel_recycler", "Like", "Share"},
			})

			Expect(s.request(http.MethodPost, "/start", nil).Code).To(Equal(http.StatusOK))

			Eventually(s.device.homes, 2*time.Second, 10*time.Millisecond).
				Should(BeNumerically(">=", 1))

			var analytics usecase.AnalyticsSnapshot
			Eventually(func() int {
				decodeInto(s.request(http.MethodGet, "/analytics", nil), &analytics)
				return analytics.TotalStrikes
			}, 2*time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 1))
		})
	})

	Describe("state persistence across restarts", func() {
		It("restores rules, config and strikes from the encrypted store", func() {
			rec := s.request(http.MethodPost, "/apps/com.instagram.android",
				map[string]interface{}{"limit": 45, "blocked": false})
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = s.request(http.MethodPost, "/config",
				map[string]interface{}{"persona": "High Schooler", "max_strikes": 5})
			Expect(rec.Code).To(Equal(http.StatusOK))

			s.stop()
			s = startStack(dataDir, key)

			var apps []engine.AppView
			decodeInto(s.request(http.MethodGet, "/apps", nil), &apps)
			Expect(apps).To(HaveLen(1))
			Expect(apps[0].Package).To(Equal("com.instagram.android"))
			Expect(apps[0].LimitMins).To(Equal(45))

			var cfg domain.GlobalConfig
			decodeInto(s.request(http.MethodGet, "/config", nil), &cfg)
			Expect(cfg.Persona).To(Equal("High Schooler"))
			Expect(cfg.MaxStrikes).To(Equal(5))
		})
	})

	Describe("schedule windows", func() {
		It("round-trips windows over the API and survives restart", func() {
			rec := s.request(http.MethodPost, "/schedule", map[string]interface{}{
				"start_time":      "19:00",
				"end_time":        "21:00",
				"label":           "Homework",
				"study_mode":      true,
				"punishment_type": "HOME",
			})
			Expect(rec.Code).To(Equal(http.StatusCreated))

			s.stop()
			s = startStack(dataDir, key)

			var entries []map[string]interface{}
			decodeInto(s.request(http.MethodGet, "/schedule", nil), &entries)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0]["label"]).To(Equal("Homework"))
			Expect(entries[0]["start_time"]).To(Equal("19:00"))
			Expect(entries[0]["end_time"]).To(Equal("21:00"))
			Expect(entries[0]["study_mode"]).To(Equal(true))

			id := int(entries[0]["id"].(float64))
			Expect(s.request(http.MethodDelete, "/schedule/1", nil).Code).
				To(Equal(http.StatusNoContent))
			Expect(id).To(Equal(1))
		})
	})

	Describe("the agent bridge", func() {
		It("executes a task and reports its status", func() {
			rec := s.request(http.MethodPost, "/agent/execute",
				map[string]string{"prompt": "go to the home screen"})
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp map[string]string
			decodeInto(rec, &resp)
			Expect(resp["status"]).To(Equal("SUCCESS"))

			var task domain.AgentTask
			decodeInto(s.request(http.MethodGet, "/agent/status", nil), &task)
			Expect(task.Status).To(Equal(domain.TaskSuccess))
			Expect(s.device.homes()).To(BeNumerically(">=", 1))
		})
	})
})
