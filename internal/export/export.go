// Package export renders a board snapshot as a human-readable report, as
// Markdown or as HTML converted with goldmark.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/MrWong99/featureboard/internal/graph"
)

// Format selects a report encoding.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

// ParseFormat accepts "md", "markdown" and "html". An empty string means
// Markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("export: unknown format %q", s)
}

// ContentType is the HTTP content type of f.
func (f Format) ContentType() string {
	if f == FormatHTML {
		return "text/html; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// Render encodes snap in format f.
func Render(snap graph.Snapshot, f Format) ([]byte, error) {
	md := Markdown(snap)
	if f == FormatHTML {
		return HTML(md)
	}
	return md, nil
}

// Markdown writes one section per feature in board order, with its
// capabilities, extracted details and conversation history.
func Markdown(snap graph.Snapshot) []byte {
	var b bytes.Buffer
	b.WriteString("# Feature board\n\n")
	fmt.Fprintf(&b, "_%s, %s (version %d)_\n",
		plural(len(snap.Features), "feature"), plural(len(snap.Capabilities), "capability"), snap.Version)

	for _, f := range snap.Features {
		fmt.Fprintf(&b, "\n## %s\n\n", escape(f.Name))
		if f.Summary != "" {
			fmt.Fprintf(&b, "%s\n\n", escape(f.Summary))
		}
		if f.UserValue != "" {
			fmt.Fprintf(&b, "**User value:** %s\n\n", escape(f.UserValue))
		}

		b.WriteString("### Capabilities\n\n")
		caps := snap.CapabilitiesOf(f.ID)
		if len(caps) == 0 {
			b.WriteString("_None yet._\n")
		}
		for _, c := range caps {
			if c.Description != "" {
				fmt.Fprintf(&b, "- **%s**: %s\n", escape(c.Title), escape(c.Description))
			} else {
				fmt.Fprintf(&b, "- **%s**\n", escape(c.Title))
			}
		}

		list(&b, "Key capabilities", f.KeyCapabilities)
		if ta := f.TechnicalApproach; ta != nil {
			list(&b, "Technical options", ta.Options)
			list(&b, "Considerations", ta.Considerations)
		}
		list(&b, "Open questions", f.OpenQuestions)
		list(&b, "Related features", f.RelatedFeatures)

		if len(f.ConversationHistory) > 0 {
			b.WriteString("\n### Conversation\n\n")
			for _, e := range f.ConversationHistory {
				note := e.Insights
				if note == "" {
					note = e.Transcript
				}
				fmt.Fprintf(&b, "- %s: %s\n", e.Timestamp.UTC().Format(time.DateTime), escape(note))
			}
		}
	}
	return b.Bytes()
}

// HTML converts Markdown to an HTML fragment. Raw HTML in transcript text
// is not passed through.
func HTML(md []byte) ([]byte, error) {
	var out bytes.Buffer
	conv := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := conv.Convert(md, &out); err != nil {
		return nil, fmt.Errorf("export: render html: %w", err)
	}
	return out.Bytes(), nil
}

func list(b *bytes.Buffer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", escape(it))
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	if strings.HasSuffix(noun, "y") {
		return fmt.Sprintf("%d %sies", n, strings.TrimSuffix(noun, "y"))
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`,
	"[", `\[`, "]", `\]`, "<", `\<`, ">", `\>`, "#", `\#`, "|", `\|`,
	"\n", " ",
)

// escape makes spoken text safe to embed in a Markdown line.
func escape(s string) string {
	return mdEscaper.Replace(strings.TrimSpace(s))
}
