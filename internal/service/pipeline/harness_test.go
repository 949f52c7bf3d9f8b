package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/docforge/internal/adapters/ingest"
	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/testutil"
)

// harness wires a Pipeline to in-memory fakes and a manual clock.
type harness struct {
	t           *testing.T
	ledger      *testutil.MemoryLedger
	checkpoints *testutil.MemoryCheckpoints
	lock        *testutil.FakeLock
	sched       *testutil.RecordingScheduler
	gen         *testutil.ScriptedGenerator
	docs        *testutil.MemoryDocStore
	clock       *testutil.ManualClock
	crashes     *crashRecorder
	inbox       string
	extractor   core.Extractor
	cfg         Config

	// lockDelay is spent on the clock by every lock acquisition.
	lockDelay time.Duration

	mu    sync.Mutex
	slept []time.Duration

	p *Pipeline
}

func newHarness(t *testing.T, tasks ...*core.Task) *harness {
	t.Helper()
	clock := testutil.NewManualClock(testutil.Epoch)
	gen := testutil.NewScriptedGenerator()
	gen.Clock = clock
	return &harness{
		t:           t,
		ledger:      testutil.NewMemoryLedger(tasks...),
		checkpoints: testutil.NewMemoryCheckpoints(),
		lock:        testutil.NewFakeLock(),
		sched:       testutil.NewRecordingScheduler(),
		gen:         gen,
		docs:        testutil.NewMemoryDocStore(),
		clock:       clock,
		crashes:     &crashRecorder{},
		inbox:       t.TempDir(),
		extractor:   ingest.NewTextExtractor(),
		cfg:         testConfig(),
	}
}

func testConfig() Config {
	return Config{
		ExecutionBudget:      5 * time.Minute,
		ContinuationDelay:    time.Minute,
		LockTimeout:          time.Second,
		ChunkDelay:           2 * time.Second,
		TailParagraphs:       2,
		PlanningMaxAttempts:  3,
		SinglePassLimit:      300_000,
		ChunkSize:            100_000,
		ErrorMessageLimit:    500,
		MaxItemBytes:         1 << 20,
		MaxTotalChars:        2_000_000,
		IntermediateLocation: "intermediate",
		FinalLocation:        "final",
		DefaultModel:         "test-model",
	}
}

func (h *harness) sleep(ctx context.Context, d time.Duration) error {
	h.mu.Lock()
	h.slept = append(h.slept, d)
	h.mu.Unlock()
	h.clock.Advance(d)
	return ctx.Err()
}

func (h *harness) sleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.slept...)
}

func (h *harness) pipeline() *Pipeline {
	h.t.Helper()
	if h.p == nil {
		p, err := New(Deps{
			Ledger:      h.ledger,
			Checkpoints: h.checkpoints,
			Lock:        &clockedLock{FakeLock: h.lock, h: h},
			Scheduler:   h.sched,
			Generator:   h.gen,
			Documents:   h.docs,
			Source:      ingest.NewDirSource(h.inbox),
			Extractor:   h.extractor,
			CrashDumps:  h.crashes,
		}, h.cfg, WithClock(h.clock.Now), WithSleep(h.sleep), WithRetryDelay(0))
		require.NoError(h.t, err)
		h.p = p
	}
	return h.p
}

// invoke runs one invocation of phase and checks the invariants that must
// hold after every transition.
func (h *harness) invoke(phase core.Phase) Report {
	h.t.Helper()
	return h.invokeCtx(context.Background(), phase)
}

func (h *harness) invokeCtx(ctx context.Context, phase core.Phase) Report {
	h.t.Helper()
	rep, err := h.pipeline().Invoke(ctx, phase)
	require.NoError(h.t, err)
	assert.False(h.t, h.lock.Held(), "lock must be released after every invocation")
	h.assertCheckpointLifecycle()
	h.assertMonotonic()
	return rep
}

// assertCheckpointLifecycle checks that a checkpoint exists exactly when
// the task sits in that phase's paused stage.
func (h *harness) assertCheckpointLifecycle() {
	h.t.Helper()
	tasks, err := h.ledger.Scan(context.Background())
	require.NoError(h.t, err)
	for _, task := range tasks {
		for _, phase := range core.AllPhases() {
			paused := phase.Stages().Paused
			want := paused != "" && task.Stage == paused
			assert.Equal(h.t, want, h.checkpoints.Has(phase, task.ID),
				"checkpoint %s/%s with task at %s", phase, task.ID, task.Stage)
		}
	}
}

func (h *harness) assertMonotonic() {
	h.t.Helper()
	tasks, err := h.ledger.Scan(context.Background())
	require.NoError(h.t, err)
	for _, task := range tasks {
		hist := h.ledger.History(task.ID)
		for i := 1; i < len(hist); i++ {
			assert.True(h.t, core.ValidTransition(hist[i-1], hist[i]),
				"task %s moved backwards: %s -> %s", task.ID, hist[i-1], hist[i])
		}
	}
}

func (h *harness) task(id string) *core.Task {
	h.t.Helper()
	task := h.ledger.Task(core.TaskID(id))
	require.NotNil(h.t, task, "task %s", id)
	return task
}

type crashRecorder struct {
	mu    sync.Mutex
	dumps []string
}

func (c *crashRecorder) WriteCrashDump(phase, taskID string, panicValue any, _ []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dumps = append(c.dumps, phase+"/"+taskID)
	return "/tmp/crash-" + taskID + ".json", nil
}

func (c *crashRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dumps)
}

// clockedLock spends the harness lock delay before acquiring.
type clockedLock struct {
	*testutil.FakeLock
	h *harness
}

func (l *clockedLock) TryAcquire(ctx context.Context, timeout time.Duration) (bool, error) {
	l.h.clock.Advance(l.h.lockDelay)
	return l.FakeLock.TryAcquire(ctx, timeout)
}

// clockedExtractor makes extraction take time on the manual clock.
type clockedExtractor struct {
	inner core.Extractor
	clock *testutil.ManualClock
	cost  time.Duration
	calls []string
}

func (e *clockedExtractor) Extract(item core.SourceItem, data []byte) (string, error) {
	e.calls = append(e.calls, item.Name)
	e.clock.Advance(e.cost)
	return e.inner.Extract(item, data)
}

// subs builds n numbered sub-topics.
func subs(n int) []core.Subtopic {
	out := make([]core.Subtopic, n)
	for i := range out {
		out[i] = core.Subtopic{
			Title:   "Part " + string(rune('A'+i)),
			Outline: "Cover part " + string(rune('A'+i)),
		}
	}
	return out
}
