// Package output provides consistent CLI output formatting with colors and progress indicators.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/amanrag/internal/search"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer. Color is used only when out is a terminal and
// NO_COLOR is unset.
func New(out io.Writer) *Writer {
	return &Writer{
		out:      out,
		useColor: IsTTY(out) && !DetectNoColor(),
	}
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

func (w *Writer) paint(style, s string) string {
	if !w.useColor || s == "" {
		return s
	}
	return style + s + ansiReset
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", w.paint(ansiYellow, msg))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", w.paint(ansiRed, msg))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// KeyValues prints aligned "key: value" rows in the given order.
func (w *Writer) KeyValues(rows [][2]string) {
	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(w.out, "  %-*s  %s\n", width+1, r[0]+":", r[1])
	}
}

// Progress prints a progress bar with message.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}

	pct := float64(current) / float64(total) * 100
	bar := renderProgressBar(current, total, 30)

	// Carriage return redraws the line in place.
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar, pct, msg)

	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// Context renders a retrieval context for humans: a header line, any
// degradation notice, then document and web evidence in packed order.
func (w *Writer) Context(rc *search.RAGContext) {
	if rc == nil {
		return
	}

	_, _ = fmt.Fprintf(w.out, "%s  %s\n", w.paint(ansiBold, "Query:"), rc.Query)
	_, _ = fmt.Fprintln(w.out, w.paint(ansiDim, fmt.Sprintf(
		"complexity=%s cache=%s tokens=%d/%d elapsed=%s request=%s",
		rc.Complexity, rc.CacheStatus, rc.TokenUsage.Total, rc.TokenUsage.Budget,
		rc.Elapsed.Round(time.Millisecond), rc.RequestID)))

	if rc.Degraded || rc.Reason != "" {
		w.Warningf("%s: %s", rc.DegradationLevel, rc.Reason)
	}

	w.results("Documents", rc.DocumentResults)
	w.results("Web", rc.WebResults)

	if len(rc.DocumentResults)+len(rc.WebResults) == 0 {
		w.Newline()
		w.Status("", "No results.")
	}
}

func (w *Writer) results(heading string, results []*search.SearchResult) {
	if len(results) == 0 {
		return
	}
	w.Newline()
	_, _ = fmt.Fprintln(w.out, w.paint(ansiBold, fmt.Sprintf("%s (%d)", heading, len(results))))

	for i, r := range results {
		source := r.DocumentID
		if r.SourceType == search.SourceWeb {
			source = r.URL
		}
		title := r.Title
		if title == "" {
			title = source
		}
		_, _ = fmt.Fprintf(w.out, "%2d. %s  %s\n", i+1, title,
			w.paint(ansiDim, fmt.Sprintf("[score %.3f, weight %.2f, %d tokens]", r.RelevanceScore, r.Weight, r.TokenCount)))
		if source != "" && source != title {
			_, _ = fmt.Fprintf(w.out, "    %s\n", w.paint(ansiDim, source))
		}
		_, _ = fmt.Fprintf(w.out, "    %s\n", truncate(oneLine(r.Snippet), 240))
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// renderProgressBar creates a text progress bar.
func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	filled := int(float64(current) / float64(total) * float64(width))
	filled = min(max(filled, 0), width)

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
