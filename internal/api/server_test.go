package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum-trader/internal/config"
	"quorum-trader/internal/orchestrator"
	"quorum-trader/internal/scheduler"
	"quorum-trader/pkg/models"
)

type stubEngine struct {
	paused      bool
	pauseCalls  int
	resumeCalls int
}

func (e *stubEngine) Pause()  { e.paused = true; e.pauseCalls++ }
func (e *stubEngine) Resume() { e.paused = false; e.resumeCalls++ }

func (e *stubEngine) Status() orchestrator.Status {
	return orchestrator.Status{
		Paused:      e.paused,
		CyclesTotal: 7,
		Analysts:    3,
		Pairs:       []orchestrator.PairStage{{Pair: "BTC/USDT", Stage: orchestrator.StageIdle}},
	}
}

type stubScheduler struct {
	lastPair   string
	lastReason string
	emergency  bool
	accepted   int
	err        error
}

func (s *stubScheduler) TriggerNow(pairName string) (int, error) {
	s.lastPair, s.emergency = pairName, false
	return s.accepted, s.err
}

func (s *stubScheduler) TriggerEmergency(pairName, reason string) (int, error) {
	s.lastPair, s.lastReason, s.emergency = pairName, reason, true
	return s.accepted, s.err
}

func (s *stubScheduler) Status() []scheduler.PairStatus {
	return []scheduler.PairStatus{{Pair: "BTC/USDT", Interval: models.Interval5m}}
}

type stubPortfolio struct {
	state models.PortfolioState
	fills int64
}

func (p *stubPortfolio) State() models.PortfolioState { return p.state }
func (p *stubPortfolio) Fills() int64                 { return p.fills }

type stubJournal struct {
	records   []models.JournalRecord
	err       error
	lastSince time.Time
}

func (j *stubJournal) Since(since time.Time) ([]models.JournalRecord, error) {
	j.lastSince = since
	return j.records, j.err
}

func testRecord(fireTime time.Time) models.JournalRecord {
	return models.JournalRecord{
		V:        models.JournalSchemaVersion,
		CycleID:  uuid.New(),
		Pair:     "BTC/USDT",
		Interval: models.Interval5m,
		Trigger: models.TriggerInfo{
			Cause:    models.CauseScheduled,
			FireTime: fireTime,
		},
		Opinions:   []models.OpinionRecord{},
		Errors:     []models.CycleError{},
		DurationMs: 12,
	}
}

func testAnalystLineup() []config.AnalystConfig {
	return []config.AnalystConfig{
		{ID: "alpha", Role: "technical", Weight: 0.6, TimeoutMs: 1500},
		{ID: "beta", Role: "sentiment", Weight: 0.4, TimeoutMs: 1500},
	}
}

type serverFixture struct {
	server    *Server
	engine    *stubEngine
	scheduler *stubScheduler
	portfolio *stubPortfolio
	journal   *stubJournal
	hub       *Hub
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	f := &serverFixture{
		engine:    &stubEngine{},
		scheduler: &stubScheduler{accepted: 1},
		portfolio: &stubPortfolio{
			state: models.PortfolioState{
				CashQuote: 9304.0,
				Positions: map[string]models.Position{
					"BTC": {Qty: 0.0134, AvgEntry: 52000, UnrealizedPnL: 3.5},
				},
				OpenRiskExposure: 696.0,
				DrawdownFromPeak: 0.01,
			},
			fills: 4,
		},
		journal: &stubJournal{},
		hub:     NewHub(zerolog.Nop()),
	}

	server, err := NewServer(Config{Host: "127.0.0.1", Port: 8090}, Deps{
		Engine:    f.engine,
		Scheduler: f.scheduler,
		Portfolio: f.portfolio,
		Journal:   f.journal,
		Analysts:  testAnalystLineup(),
		Hub:       f.hub,
	}, zerolog.Nop())
	require.NoError(t, err)
	f.server = server
	return f
}

func (f *serverFixture) do(t *testing.T, method, target string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)

	var response map[string]interface{}
	if strings.Contains(w.Header().Get("Content-Type"), "application/json") && w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	}
	return w, response
}

func TestNewServerRequiresEngineAndScheduler(t *testing.T) {
	_, err := NewServer(Config{}, Deps{Scheduler: &stubScheduler{}}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine")

	_, err = NewServer(Config{}, Deps{Engine: &stubEngine{}}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler")
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	w, response := f.do(t, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", response["status"])
	assert.NotEmpty(t, response["time"])
}

func TestRootEndpoint(t *testing.T) {
	f := newServerFixture(t)

	w, response := f.do(t, "GET", "/", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "quorum-trader", response["service"])
}

func TestStatusEndpoint(t *testing.T) {
	f := newServerFixture(t)

	w, response := f.do(t, "GET", "/api/v1/status", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", response["status"])
	assert.Contains(t, response, "uptime")
	assert.Contains(t, response, "engine")
	assert.Contains(t, response, "schedules")

	engine, ok := response["engine"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(7), engine["cycles_total"])

	f.engine.Pause()
	w, response = f.do(t, "GET", "/api/v1/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paused", response["status"])
}

func TestTriggerEndpoint(t *testing.T) {
	t.Run("manual", func(t *testing.T) {
		f := newServerFixture(t)

		w, response := f.do(t, "POST", "/api/v1/trigger/BTC-USDT", nil)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "BTC/USDT", f.scheduler.lastPair)
		assert.False(t, f.scheduler.emergency)
		assert.Equal(t, "MANUAL", response["cause"])
		assert.Equal(t, float64(1), response["accepted"])
	})

	t.Run("emergency with reason", func(t *testing.T) {
		f := newServerFixture(t)

		body := []byte(`{"reason": "exchange halted", "emergency": true}`)
		w, response := f.do(t, "POST", "/api/v1/trigger/BTC-USDT", body)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.True(t, f.scheduler.emergency)
		assert.Equal(t, "exchange halted", f.scheduler.lastReason)
		assert.Equal(t, "EMERGENCY", response["cause"])
	})

	t.Run("unknown pair", func(t *testing.T) {
		f := newServerFixture(t)
		f.scheduler.err = assert.AnError

		w, response := f.do(t, "POST", "/api/v1/trigger/DOGE-USDT", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, response, "error")
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newServerFixture(t)

		w, _ := f.do(t, "POST", "/api/v1/trigger/BTC-USDT", []byte(`{nope`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPauseResumeEndpoints(t *testing.T) {
	f := newServerFixture(t)

	w, response := f.do(t, "POST", "/api/v1/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paused", response["status"])
	assert.Equal(t, 1, f.engine.pauseCalls)

	w, response = f.do(t, "POST", "/api/v1/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", response["status"])
	assert.Equal(t, 1, f.engine.resumeCalls)
}

func TestJournalEndpoint(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("returns records", func(t *testing.T) {
		f := newServerFixture(t)
		f.journal.records = []models.JournalRecord{testRecord(now.Add(-time.Minute)), testRecord(now)}

		w, response := f.do(t, "GET", "/api/v1/journal", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(2), response["total"])
		assert.True(t, f.journal.lastSince.IsZero())
	})

	t.Run("parses since", func(t *testing.T) {
		f := newServerFixture(t)

		w, _ := f.do(t, "GET", "/api/v1/journal?since="+now.Format(time.RFC3339), nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, f.journal.lastSince.Equal(now))
	})

	t.Run("rejects bad since", func(t *testing.T) {
		f := newServerFixture(t)

		w, response := f.do(t, "GET", "/api/v1/journal?since=yesterday", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, response["error"], "invalid since")
	})

	t.Run("keeps the newest records under limit", func(t *testing.T) {
		f := newServerFixture(t)
		oldest := testRecord(now.Add(-2 * time.Minute))
		newest := testRecord(now)
		f.journal.records = []models.JournalRecord{oldest, testRecord(now.Add(-time.Minute)), newest}

		w, response := f.do(t, "GET", "/api/v1/journal?limit=2", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(2), response["total"])
		records, ok := response["records"].([]interface{})
		require.True(t, ok)
		require.Len(t, records, 2)
		last, ok := records[1].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, newest.CycleID.String(), last["cycle_id"])
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		f := newServerFixture(t)

		w, _ := f.do(t, "GET", "/api/v1/journal?limit=0", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("503 without a journal", func(t *testing.T) {
		f := newServerFixture(t)
		f.server.deps.Journal = nil

		w, _ := f.do(t, "GET", "/api/v1/journal", nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestPortfolioEndpoint(t *testing.T) {
	f := newServerFixture(t)

	w, response := f.do(t, "GET", "/api/v1/portfolio", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 9304.0, response["cash_quote"])
	assert.Equal(t, float64(4), response["fills"])
	assert.Contains(t, response, "equity")
	assert.Contains(t, response, "drawdown_from_peak")

	positions, ok := response["positions"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, positions, "BTC")
}

func TestPresetExportEndpoint(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/analysts/preset?name=live", nil)
	w := httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "yaml")
	body := w.Body.String()
	assert.Contains(t, body, "version: 1.0.0")
	assert.Contains(t, body, "id: alpha")
	assert.Contains(t, body, "role: sentiment")
}

func TestPresetImportEndpoint(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		f := newServerFixture(t)

		doc := []byte(`version: 1.0.0
name: candidate
analysts:
  - id: alpha
    role: technical
    weight: 0.5
  - id: beta
    role: sentiment
    weight: 0.5
`)
		req := httptest.NewRequest("POST", "/api/v1/analysts/preset", bytes.NewReader(doc))
		w := httptest.NewRecorder()
		f.server.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, true, response["valid"])
		assert.Equal(t, float64(2), response["analysts"])
	})

	t.Run("incompatible version", func(t *testing.T) {
		f := newServerFixture(t)

		doc := []byte("version: 2.0.0\nanalysts:\n  - id: alpha\n    role: technical\n    weight: 1.0\n")
		req := httptest.NewRequest("POST", "/api/v1/analysts/preset", bytes.NewReader(doc))
		w := httptest.NewRecorder()
		f.server.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, false, response["valid"])
	})
}

func TestPairParam(t *testing.T) {
	assert.Equal(t, "BTC/USDT", pairParam("BTC-USDT"))
	assert.Equal(t, "ETH/USDT", pairParam("ETH-USDT"))
	assert.Equal(t, "BTC/USDT", pairParam("BTC/USDT"))
}
