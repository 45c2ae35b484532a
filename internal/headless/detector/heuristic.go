// Package detector decides whether a statically fetched marketplace page is
// a client-rendered shell that needs headless Chrome.
package detector

import (
	"bytes"
	"net/http"
)

const defaultShellSize = 2048

// Heuristic flags pages by app-shell markers and script weight.
type Heuristic struct {
	// ShellSize is the body length under which a script-heavy page is
	// treated as an empty shell.
	ShellSize int
}

// NewHeuristic creates a detector. Zero selects the default shell size.
func NewHeuristic(shellSize int) *Heuristic {
	if shellSize <= 0 {
		shellSize = defaultShellSize
	}
	return &Heuristic{ShellSize: shellSize}
}

var shellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
}

// NeedsRender reports whether the page should be fetched again with a
// headless browser. Error responses never qualify.
func (h *Heuristic) NeedsRender(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range shellMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return len(body) < h.ShellSize && scriptShare(lower) >= 25
}

// scriptShare returns the percentage of the document inside <script> elements.
// An unterminated script runs to the end of the document.
func scriptShare(lower []byte) int {
	total := len(lower)
	if total == 0 {
		return 0
	}
	var (
		openTag  = []byte("<script")
		closeTag = []byte("</script>")
		covered  int
		pos      int
	)
	for pos < total {
		start := bytes.Index(lower[pos:], openTag)
		if start < 0 {
			break
		}
		start += pos
		end := bytes.Index(lower[start:], closeTag)
		if end < 0 {
			covered += total - start
			break
		}
		end += start + len(closeTag)
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
