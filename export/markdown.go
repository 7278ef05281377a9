package export

import (
	"bufio"
	"io"
	"strings"
)

// WriteMarkdown writes the digest as Markdown. Source text is quoted; notes
// are Markdown already and are copied through.
func WriteMarkdown(w io.Writer, d Digest) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("# " + oneLine(d.title()) + "\n")
	for _, s := range d.Sections() {
		bw.WriteString("\n## " + pageHeading(s.Page) + "\n")
		for _, h := range s.Highlights {
			bw.WriteString("\n")
			for _, line := range strings.Split(clean(h.SourceText), "\n") {
				bw.WriteString(strings.TrimRight("> "+line, " ") + "\n")
			}
			bw.WriteString("\n_" + h.Color + "_\n")
			if h.NoteText != nil && strings.TrimSpace(*h.NoteText) != "" {
				bw.WriteString("\n" + strings.TrimSpace(clean(*h.NoteText)) + "\n")
			}
		}
	}
	return bw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
