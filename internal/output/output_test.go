package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amanrag/internal/search"
)

func TestWriter_StatusIcons(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  []string
	}{
		{"status", func(w *Writer) { w.Status("🔍", "Checking embedder...") }, []string{"🔍", "Checking embedder..."}},
		{"success", func(w *Writer) { w.Successf("Imported %d chunks", 12) }, []string{"✅", "Imported 12 chunks"}},
		{"warning", func(w *Writer) { w.Warning("web search disabled") }, []string{"⚠️", "web search disabled"}},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "boom") }, []string{"❌", "failed: boom"}},
		{"no icon", func(w *Writer) { w.Status("", "indented") }, []string{"   indented"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestNew_BufferHasNoColor(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Error("plain")

	assert.False(t, w.useColor)
	assert.NotContains(t, buf.String(), "\033[")
}

func TestWriter_KeyValues_Aligned(t *testing.T) {
	buf := &bytes.Buffer{}

	New(buf).KeyValues([][2]string{{"entries", "12"}, {"hit rate", "0.42"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, strings.Index(lines[0], "12"), strings.Index(lines[1], "0.42"))
}

func TestWriter_Progress_PrintsProgressBar(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(50, 100, "Importing chunks")
	w.Progress(0, 0, "ignored")

	assert.Contains(t, buf.String(), "50%")
	assert.Contains(t, buf.String(), "Importing chunks")
	assert.NotContains(t, buf.String(), "ignored")
}

func TestProgressBar_Render(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		width    int
		wantFull int
	}{
		{"0 percent", 0, 100, 10, 0},
		{"50 percent", 50, 100, 10, 5},
		{"100 percent", 100, 100, 10, 10},
		{"over 100 percent", 150, 100, 10, 10},
		{"25 percent", 25, 100, 20, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)

			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

func TestWriter_Context_RendersEvidence(t *testing.T) {
	// Given: a degraded context with one document and one web result
	rc := &search.RAGContext{
		RequestID:        "req-1",
		Query:            "raft leader election",
		Degraded:         true,
		DegradationLevel: search.DegradationSevere,
		Reason:           "vector search unavailable",
		CacheStatus:      search.CacheMiss,
		TokenUsage:       search.TokenUsage{Total: 120, Budget: 6000},
		Elapsed:          42 * time.Millisecond,
		DocumentResults: []*search.SearchResult{{
			SourceType: search.SourceDocument, DocumentID: "doc-1", Title: "Raft notes",
			Snippet: "raft elects a leader\nusing randomized timeouts", RelevanceScore: 0.8, Weight: 1,
		}},
		WebResults: []*search.SearchResult{{
			SourceType: search.SourceWeb, URL: "https://raft.github.io/", Snippet: "the raft site", Weight: 0.5,
		}},
	}
	buf := &bytes.Buffer{}

	// When: rendering it
	New(buf).Context(rc)

	// Then: header, degradation notice and both sections are shown
	out := buf.String()
	assert.Contains(t, out, "raft leader election")
	assert.Contains(t, out, "tokens=120/6000")
	assert.Contains(t, out, "SEVERE: vector search unavailable")
	assert.Contains(t, out, "Documents (1)")
	assert.Contains(t, out, "raft elects a leader using randomized timeouts")
	assert.Contains(t, out, "Web (1)")
	assert.Contains(t, out, "https://raft.github.io/")
	assert.NotContains(t, out, "No results.")
}

func TestWriter_Context_Empty(t *testing.T) {
	buf := &bytes.Buffer{}

	New(buf).Context(&search.RAGContext{Query: "nothing", DegradationLevel: search.DegradationNone})

	assert.Contains(t, buf.String(), "No results.")
	assert.NotContains(t, buf.String(), "⚠️")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
