package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(NewTestTask("a"), NewTestTask("b"))

	require.NoError(t, l.Write(ctx, "a", core.StagePatch(core.StageIngesting).SetNotes([]string{"n"})))
	require.NoError(t, l.Create(ctx, NewTestTask("c")))
	assert.Error(t, l.Create(ctx, NewTestTask("c")))

	tasks, err := l.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, core.TaskID("c"), tasks[2].ID)

	// Returned tasks are copies.
	tasks[0].Stage = core.StageCompleted
	assert.Equal(t, core.StageIngesting, l.Task("a").Stage)
	assert.Equal(t, []string{"n"}, l.Task("a").Notes)
	assert.Equal(t, []core.Stage{core.StagePendingIngestion, core.StageIngesting}, l.History("a"))
	assert.Equal(t, 1, l.Writes())

	_, err = l.Get(ctx, "zzz")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

	l.FailWrite = errors.New("read-only")
	assert.Error(t, l.Write(ctx, "b", core.StagePatch(core.StageIngesting)))
}

func TestMemoryCheckpoints(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCheckpoints()
	require.NoError(t, c.Set(ctx, core.PhaseRawText, "b", []byte("2")))
	require.NoError(t, c.Set(ctx, core.PhaseRawText, "a", []byte("1")))
	c.Put(core.PhaseIngestion, "a", []byte("0"))

	keys, err := c.ListKeys(ctx, core.CheckpointPrefix(core.PhaseRawText))
	require.NoError(t, err)
	assert.Equal(t, []string{"rawtext/a", "rawtext/b"}, keys)

	blob, err := c.Get(ctx, core.PhaseRawText, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), blob)

	require.NoError(t, c.Delete(ctx, core.PhaseRawText, "a"))
	require.NoError(t, c.Delete(ctx, core.PhaseRawText, "missing"))
	assert.False(t, c.Has(core.PhaseRawText, "a"))
	assert.True(t, c.Has(core.PhaseIngestion, "a"))
	assert.Equal(t, 3, c.Writes())
}

func TestFakeLock(t *testing.T) {
	ctx := context.Background()
	l := NewFakeLock()

	ok, err := l.TryAcquire(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l.TryAcquire(ctx, time.Second)
	assert.False(t, ok, "lock is not reentrant")
	require.NoError(t, l.Release(ctx))
	assert.Error(t, l.Release(ctx))

	l.SetBusy(true)
	ok, _ = l.TryAcquire(ctx, time.Second)
	assert.False(t, ok)
	acquires, releases := l.Counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, releases)
}

func TestScriptedGenerator(t *testing.T) {
	ctx := context.Background()
	clock := NewManualClock(Epoch)
	g := NewScriptedGenerator()
	g.Clock, g.Cost = clock, time.Minute
	g.Queue("plan", "first").QueueError("plan", errors.New("second fails"))
	g.Handle("plan", func(req core.GenerateRequest) (string, error) { return "handled " + req.Prompt, nil })

	out, err := g.Generate(ctx, core.GenerateRequest{Purpose: "plan", Prompt: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "first", out)
	_, err = g.Generate(ctx, core.GenerateRequest{Purpose: "plan", Prompt: "p2"})
	assert.Error(t, err)
	out, err = g.Generate(ctx, core.GenerateRequest{Purpose: "plan", Prompt: "p3"})
	require.NoError(t, err)
	assert.Equal(t, "handled p3", out)
	_, err = g.Generate(ctx, core.GenerateRequest{Purpose: "chunk"})
	assert.Error(t, err)

	assert.Len(t, g.CallsFor("plan"), 3)
	assert.Len(t, g.Calls(), 4)
	assert.Equal(t, Epoch.Add(4*time.Minute), clock.Now())
}

func TestMemoryDocStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDocStore()

	ref, err := s.Create(ctx, "Title", "content")
	require.NoError(t, err)
	assert.Equal(t, "doc-001", ref)
	require.NoError(t, s.Move(ctx, ref, "final"))
	require.NoError(t, s.Rename(ctx, ref, "title.md"))
	assert.Equal(t, &MemoryDocument{Title: "Title", Name: "title.md", Content: "content", Location: "final"}, s.Doc(ref))

	assert.Error(t, s.Move(ctx, "doc-999", "final"))
	_, err = s.Read(ctx, "doc-999")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
	assert.Equal(t, 1, s.CountTitled("Title"))
	assert.Equal(t, 1, s.Len())
}
