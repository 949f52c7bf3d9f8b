package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestDirSource_ListSortedAndFiltered(t *testing.T) {
	inbox := t.TempDir()
	dir := filepath.Join(inbox, "t1")
	writeFile(t, filepath.Join(dir, "b.md"), "bravo")
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha")
	writeFile(t, filepath.Join(dir, ".hidden"), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o750))

	src := NewDirSource(inbox)
	items, err := src.List(context.Background(), core.NewTask("t1", "p", core.ModeSimple))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.txt", items[0].Name)
	assert.Equal(t, int64(5), items[0].Size)
	assert.Equal(t, "b.md", items[1].Name)

	rc, err := src.Open(context.Background(), items[1])
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "bravo", string(data))
}

func TestDirSource_MissingDirectoryIsEmpty(t *testing.T) {
	src := NewDirSource(t.TempDir())
	items, err := src.List(context.Background(), core.NewTask("absent", "p", core.ModeSimple))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDirSource_TaskSourceOverridesInbox(t *testing.T) {
	custom := t.TempDir()
	writeFile(t, filepath.Join(custom, "only.md"), "x")

	src := NewDirSource(t.TempDir())
	task := core.NewTask("t1", "p", core.ModeSimple).WithSource(custom)
	assert.Equal(t, custom, src.DirFor(task))

	items, err := src.List(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "only.md", items[0].Name)
}

func TestTextExtractor(t *testing.T) {
	ex := NewTextExtractor()

	tests := []struct {
		name    string
		item    string
		data    string
		want    string
		wantErr bool
	}{
		{name: "plain text", item: "a.txt", data: "  hello\n", want: "hello"},
		{name: "bom stripped", item: "a.md", data: "\xef\xbb\xbf# Title", want: "# Title"},
		{name: "nul byte", item: "a.bin", data: "ab\x00cd", wantErr: true},
		{name: "invalid utf8", item: "a.txt", data: "\xff\xfe\xfd", wantErr: true},
		{
			name: "html",
			item: "page.html",
			data: "<html><head><style>p{}</style><script>var x;</script></head>" +
				"<body><h1>Head</h1><p>First   para</p><p>Second</p></body></html>",
			want: "Head\n\nFirst para\n\nSecond",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ex.Extract(core.SourceItem{Name: tt.item}, []byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, core.IsCategory(err, core.ErrCatValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsBinary_SplitRuneAtSniffBoundary(t *testing.T) {
	data := make([]byte, 0, sniffLen+4)
	for len(data) < sniffLen-1 {
		data = append(data, 'a')
	}
	data = append(data, "é"...)
	assert.False(t, isBinary(data))
}

func TestInboxWatcher_NotifiesOnNewItem(t *testing.T) {
	if testing.Short() {
		t.Skip("filesystem watcher test")
	}
	inbox := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(inbox, "t1"), 0o750))

	w := NewInboxWatcher(inbox, 20*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
	}()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.watchedDirs[filepath.Join(inbox, "t1")]
	}, 2*time.Second, 10*time.Millisecond)

	writeFile(t, filepath.Join(inbox, "t1", "new.md"), "content")

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("expected change notification")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
