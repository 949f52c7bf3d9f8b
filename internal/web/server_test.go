package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/config"
	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/service/pipeline"
	"github.com/hugo-lorenzo-mato/docforge/internal/testutil"
)

// stubPipeline records calls and returns canned results.
type stubPipeline struct {
	report    pipeline.Report
	invokeErr error
	opErr     error
	invoked   []core.Phase
	cancelled []core.TaskID
	retried   []core.TaskID
	ctxErr    error
	ledger    *testutil.MemoryLedger
}

func (p *stubPipeline) Invoke(ctx context.Context, phase core.Phase) (pipeline.Report, error) {
	p.invoked = append(p.invoked, phase)
	p.ctxErr = ctx.Err()
	rep := p.report
	rep.Phase = phase
	return rep, p.invokeErr
}

func (p *stubPipeline) Cancel(ctx context.Context, id core.TaskID) (*core.Task, error) {
	p.cancelled = append(p.cancelled, id)
	return p.operate(ctx, id, core.StageErrorText)
}

func (p *stubPipeline) Retry(ctx context.Context, id core.TaskID) (*core.Task, error) {
	p.retried = append(p.retried, id)
	return p.operate(ctx, id, core.StageIngested)
}

func (p *stubPipeline) operate(ctx context.Context, id core.TaskID, stage core.Stage) (*core.Task, error) {
	if p.opErr != nil {
		return nil, p.opErr
	}
	if err := p.ledger.Write(ctx, id, core.StagePatch(stage)); err != nil {
		return nil, err
	}
	return p.ledger.Get(ctx, id)
}

func newTestServer(t *testing.T, tasks ...*core.Task) (*Server, *stubPipeline, *testutil.MemoryLedger) {
	t.Helper()
	ledger := testutil.NewMemoryLedger(tasks...)
	p := &stubPipeline{report: pipeline.Report{Outcome: pipeline.OutcomeIdle}, ledger: ledger}
	cfg := DefaultConfig()
	cfg.EnableCORS = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, p, ledger, logger), p, ledger
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestDefaultConfig_Values(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Host != "localhost" || cfg.Port != 8080 {
		t.Errorf("address = %s:%d, want localhost:8080", cfg.Host, cfg.Port)
	}
	if !cfg.EnableCORS {
		t.Error("EnableCORS = false, want true")
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:5173" {
		t.Errorf("CORSOrigins = %v, want [http://localhost:5173]", cfg.CORSOrigins)
	}
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()

	cfg := ConfigFrom(
		config.ServerConfig{Host: "0.0.0.0", Port: 9090, EnableCORS: false},
		config.PipelineConfig{ExecutionBudget: 5 * time.Minute},
		5*time.Second,
	)
	if cfg.Host != "0.0.0.0" || cfg.Port != 9090 {
		t.Errorf("address = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.EnableCORS {
		t.Error("EnableCORS = true, want false")
	}
	if want := 5*time.Minute + 5*time.Second + writeMargin; cfg.WriteTimeout != want {
		t.Errorf("WriteTimeout = %v, want %v", cfg.WriteTimeout, want)
	}
	if len(cfg.CORSOrigins) != 1 {
		t.Errorf("CORSOrigins = %v, want the default origin", cfg.CORSOrigins)
	}
}

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Port = 18080
	server := New(cfg, &stubPipeline{}, testutil.NewMemoryLedger(), nil)
	if server.logger == nil {
		t.Error("logger should default to slog.Default()")
	}
	if server.Addr() != "localhost:18080" {
		t.Errorf("Addr() = %q", server.Addr())
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["status"]; got != "healthy" {
		t.Errorf("status field = %q", got)
	}
}

func TestInvoke(t *testing.T) {
	t.Parallel()

	s, p, _ := newTestServer(t)
	p.report = pipeline.Report{TaskID: "t-1", Outcome: pipeline.OutcomePaused, Resumed: true}

	rec := do(t, s, http.MethodPost, "/api/v1/phases/rawtext/invoke", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rep := decode[pipeline.Report](t, rec)
	if rep.Phase != core.PhaseRawText || rep.TaskID != "t-1" || rep.Outcome != pipeline.OutcomePaused || !rep.Resumed {
		t.Errorf("report = %+v", rep)
	}
	if len(p.invoked) != 1 || p.invoked[0] != core.PhaseRawText {
		t.Errorf("invoked = %v", p.invoked)
	}
	if p.ctxErr != nil {
		t.Errorf("invocation context already done: %v", p.ctxErr)
	}
}

func TestInvoke_LockedIsNotAnError(t *testing.T) {
	t.Parallel()

	s, p, _ := newTestServer(t)
	p.report = pipeline.Report{Outcome: pipeline.OutcomeLocked}

	rec := do(t, s, http.MethodPost, "/api/v1/phases/ingestion/invoke", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rep := decode[pipeline.Report](t, rec); rep.Outcome != pipeline.OutcomeLocked {
		t.Errorf("outcome = %s, want locked", rep.Outcome)
	}
}

func TestInvoke_UnknownPhase(t *testing.T) {
	t.Parallel()

	s, p, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/v1/phases/publishing/invoke", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if len(p.invoked) != 0 {
		t.Errorf("pipeline invoked for unknown phase: %v", p.invoked)
	}
}

func TestInvoke_Failure(t *testing.T) {
	t.Parallel()

	s, p, _ := newTestServer(t)
	p.invokeErr = core.ErrState(core.CodeLockAcquireFailed, "lock file unreadable")

	rec := do(t, s, http.MethodPost, "/api/v1/phases/planning/invoke", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if msg := decode[map[string]string](t, rec)["error"]; !strings.Contains(msg, "lock file unreadable") {
		t.Errorf("error = %q", msg)
	}
}

func TestListTasks(t *testing.T) {
	t.Parallel()

	done := core.NewTask("t-2", "Second", core.ModeSimple)
	done.Stage = core.StageCompleted
	s, _, _ := newTestServer(t, core.NewTask("t-1", "First", core.ModeDeep), done)

	rec := do(t, s, http.MethodGet, "/api/v1/tasks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	all := decode[[]TaskResponse](t, rec)
	if len(all) != 2 || all[0].ID != "t-1" || all[1].ID != "t-2" {
		t.Fatalf("tasks = %+v", all)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/tasks?stage=completed", "")
	filtered := decode[[]TaskResponse](t, rec)
	if len(filtered) != 1 || filtered[0].ID != "t-2" {
		t.Errorf("filtered = %+v", filtered)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/tasks?stage=planning", "")
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("empty filter body = %s, want []", body)
	}
}

func TestCreateTask(t *testing.T) {
	t.Parallel()

	s, _, ledger := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/v1/tasks", `{"id":"t-9","prompt":"History of fins","mode":"deep","max_subtopics":3}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decode[TaskResponse](t, rec)
	if resp.ID != "t-9" || resp.Stage != string(core.StagePendingIngestion) || resp.Mode != "deep" || resp.MaxSubtopics != 3 {
		t.Errorf("response = %+v", resp)
	}
	if ledger.Task("t-9") == nil {
		t.Error("task not written to the ledger")
	}

	rec = do(t, s, http.MethodPost, "/api/v1/tasks", `{"id":"t-9","prompt":"Again"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}
}

func TestCreateTask_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"prompt":`, http.StatusBadRequest},
		{"unknown field", `{"prompt":"x","stage":"completed"}`, http.StatusBadRequest},
		{"empty prompt", `{"prompt":"  "}`, http.StatusUnprocessableEntity},
		{"bad mode", `{"prompt":"x","mode":"fast"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _, _ := newTestServer(t)
			rec := do(t, s, http.MethodPost, "/api/v1/tasks", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestGetTask(t *testing.T) {
	t.Parallel()

	task := core.NewTask("t-1", "First", core.ModeDeep)
	task.SubtopicsRaw = `[{"title":"Origins","outline":"Where it began"}]`
	broken := core.NewTask("t-2", "Second", core.ModeDeep)
	broken.SubtopicsRaw = `[{"title":`
	s, _, _ := newTestServer(t, task, broken)

	rec := do(t, s, http.MethodGet, "/api/v1/tasks/t-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[TaskResponse](t, rec)
	if len(resp.Subtopics) != 1 || resp.Subtopics[0].Title != "Origins" || resp.SubtopicsRaw != "" {
		t.Errorf("subtopics = %+v raw %q", resp.Subtopics, resp.SubtopicsRaw)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/tasks/t-2", "")
	if resp := decode[TaskResponse](t, rec); resp.SubtopicsRaw != `[{"title":` {
		t.Errorf("malformed subtopics should be returned raw, got %q", resp.SubtopicsRaw)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/tasks/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
}

func TestCancelAndRetryTask(t *testing.T) {
	t.Parallel()

	s, p, _ := newTestServer(t, core.NewTask("t-1", "First", core.ModeSimple))

	rec := do(t, s, http.MethodPost, "/api/v1/tasks/t-1/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	if resp := decode[TaskResponse](t, rec); resp.Stage != string(core.StageErrorText) {
		t.Errorf("stage after cancel = %s", resp.Stage)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/tasks/t-1/retry", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d", rec.Code)
	}
	if len(p.cancelled) != 1 || len(p.retried) != 1 {
		t.Errorf("cancelled = %v, retried = %v", p.cancelled, p.retried)
	}

	p.opErr = core.ErrState("LOCK_BUSY", "another invocation holds the lock")
	rec = do(t, s, http.MethodPost, "/api/v1/tasks/t-1/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("busy status = %d, want 409", rec.Code)
	}
}

func TestHTTPStatusForDomainError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
		ok   bool
	}{
		{core.ErrValidation("X", "bad"), http.StatusUnprocessableEntity, true},
		{core.ErrNotFound("task", "t"), http.StatusNotFound, true},
		{core.ErrState("X", "busy"), http.StatusConflict, true},
		{core.ErrValidation("TASK_EXISTS", "dup"), http.StatusConflict, true},
		{core.ErrAuth("denied"), http.StatusUnauthorized, true},
		{core.ErrRateLimit("slow down"), http.StatusTooManyRequests, true},
		{core.ErrTimeout("late"), http.StatusGatewayTimeout, true},
		{core.ErrInternal("X", "boom"), http.StatusInternalServerError, true},
		{io.EOF, 0, false},
	}
	for _, tt := range tests {
		got, ok := httpStatusForDomainError(tt.err)
		if got != tt.want || ok != tt.ok {
			t.Errorf("httpStatusForDomainError(%v) = %d, %v; want %d, %v", tt.err, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	s := New(cfg, &stubPipeline{}, testutil.NewMemoryLedger(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tasks", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.EnableCORS = false
	s := New(cfg, &stubPipeline{}, testutil.NewMemoryLedger(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
