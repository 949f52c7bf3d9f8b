package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name      string
		opts      Options
		wantQueue bool
		wantErr   bool
	}{
		{name: "sqlite", opts: Options{Backend: core.StateBackendSQLite, Path: filepath.Join(dir, "a.db")}, wantQueue: true},
		{name: "default is sqlite", opts: Options{Path: filepath.Join(dir, "b.db")}, wantQueue: true},
		{name: "json", opts: Options{Backend: core.StateBackendJSON, Dir: filepath.Join(dir, "json")}},
		{name: "unknown", opts: Options{Backend: "redis"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stores, err := Open(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer stores.Close()

			assert.NotNil(t, stores.Ledger)
			assert.NotNil(t, stores.Checkpoints)
			assert.Equal(t, tt.wantQueue, stores.Queue != nil)
		})
	}
}

func TestStores_CloseNil(t *testing.T) {
	var s *Stores
	assert.NoError(t, s.Close())
}
