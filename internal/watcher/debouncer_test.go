package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextBatch(t *testing.T, ch <-chan []FileEvent, timeout time.Duration) []FileEvent {
	t.Helper()
	select {
	case batch, ok := <-ch:
		require.True(t, ok, "channel closed")
		return batch
	case <-time.After(timeout):
		t.Fatal("timeout waiting for batch")
		return nil
	}
}

func TestDebouncer_BurstBecomesOneEvent(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	// When: a file is written several times in quick succession
	for range 5 {
		d.Add(FileEvent{Path: "/data/corpus.jsonl", Operation: OpModify})
		time.Sleep(5 * time.Millisecond)
	}

	// Then: a single MODIFY is emitted
	batch := nextBatch(t, d.Output(), time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation)
}

func TestDebouncer_MergeRules(t *testing.T) {
	tests := []struct {
		name      string
		ops       []Operation
		wantOp    Operation
		wantEmpty bool
	}{
		{"create then modify", []Operation{OpCreate, OpModify}, OpCreate, false},
		{"modify then delete", []Operation{OpModify, OpDelete}, OpDelete, false},
		{"delete then create", []Operation{OpDelete, OpCreate}, OpModify, false},
		{"create then delete", []Operation{OpCreate, OpDelete}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a debouncer
			d := NewDebouncer(30 * time.Millisecond)
			defer d.Stop()

			// When: the operations arrive for one path
			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "a", Operation: op})
			}

			// Then: they merge or cancel
			if tt.wantEmpty {
				select {
				case batch := <-d.Output():
					t.Fatalf("expected no batch, got %v", batch)
				case <-time.After(150 * time.Millisecond):
				}
				return
			}
			batch := nextBatch(t, d.Output(), time.Second)
			require.Len(t, batch, 1)
			assert.Equal(t, tt.wantOp, batch[0].Operation)
		})
	}
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "b", Operation: OpModify})
	d.Add(FileEvent{Path: "a", Operation: OpCreate})

	batch := nextBatch(t, d.Output(), time.Second)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Path)
	assert.Equal(t, "b", batch[1].Path)
}

func TestDebouncer_StopClosesOutputAndIgnoresAdds(t *testing.T) {
	// Given: a stopped debouncer
	d := NewDebouncer(10 * time.Millisecond)
	d.Stop()
	d.Stop()

	// When: adding after stop
	d.Add(FileEvent{Path: "a", Operation: OpModify})

	// Then: output is closed and nothing is emitted
	_, ok := <-d.Output()
	assert.False(t, ok)
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Operation(42).String())
}
