package diary

import (
	"bytes"
	"fmt"

	"github.com/danielpatrickdp/edge-companion/internal/state"
	"github.com/yuin/goldmark"
)

// Markdown renders an entry as a Markdown document.
func Markdown(e state.DiaryEntry) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "## %s\n\n", e.Date)
	b.WriteString(e.DiaryText)
	fmt.Fprintf(&b, "\n_profile v%d to v%d, %d interactions_\n", e.ProfileVersionBefore, e.ProfileVersionAfter, e.TotalInteractions)
	return b.String()
}

// RenderHTML converts an entry to an HTML fragment.
func RenderHTML(e state.DiaryEntry) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(e)), &buf); err != nil {
		return "", fmt.Errorf("render diary %s: %w", e.Date, err)
	}
	return buf.String(), nil
}
