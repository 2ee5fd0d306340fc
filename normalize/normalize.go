// Package normalize turns an email body (HTML or plain text) into the plain
// text used for fingerprinting and for the correspondence bundle.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// skipElements are elements whose text content is discarded.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"title":    true,
}

// blockElements end a line when they open or close.
var blockElements = map[string]bool{
	"p": true, "div": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "li": true, "ul": true, "ol": true,
	"blockquote": true, "pre": true, "table": true, "tr": true, "td": true,
	"th": true, "section": true, "article": true, "header": true,
	"footer": true, "hr": true, "body": true, "html": true,
}

var (
	replyHeaderRE = regexp.MustCompile(`(?i)^on\s.+\swrote:$`)
	signatureRE   = regexp.MustCompile(`^(?:-{3,}|_{3,})$`)
)

// Normalize strips markup, decodes entities, drops a leading quoted reply and
// everything from a signature delimiter on, and collapses whitespace. It
// returns "" for blank input and never fails.
func Normalize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	lines := Lines(raw)
	lines = dropLeadingQuote(lines)
	lines = cutSignature(lines)
	return norm.NFC.String(strings.Join(strings.Fields(strings.Join(lines, "\n")), " "))
}

// Lines strips markup and returns the trimmed, whitespace-collapsed lines of
// the body. Block-level boundaries become line breaks.
func Lines(raw string) []string {
	text := StripMarkup(raw)
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, strings.Join(strings.Fields(line), " "))
	}
	return lines
}

// StripMarkup removes tags and decodes entities. Block elements and <br>
// produce a newline; script and style content is discarded.
func StripMarkup(raw string) string {
	var (
		b         strings.Builder
		skipDepth int
	)
	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()

		case html.StartTagToken:
			tn, _ := z.TagName()
			name := string(tn)
			if skipElements[name] {
				skipDepth++
				continue
			}
			if name == "br" || blockElements[name] {
				b.WriteByte('\n')
			}

		case html.EndTagToken:
			tn, _ := z.TagName()
			name := string(tn)
			if skipElements[name] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockElements[name] {
				b.WriteByte('\n')
			}

		case html.SelfClosingTagToken:
			tn, _ := z.TagName()
			name := string(tn)
			if name == "br" || name == "hr" {
				b.WriteByte('\n')
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			// Text is already unescaped by the tokenizer.
			b.Write(z.Text())
		}
	}
}

func dropLeadingQuote(lines []string) []string {
	for len(lines) > 0 {
		line := lines[0]
		if line == "" || strings.HasPrefix(line, ">") || replyHeaderRE.MatchString(line) {
			lines = lines[1:]
			continue
		}
		break
	}
	return lines
}

func cutSignature(lines []string) []string {
	for i, line := range lines {
		if signatureRE.MatchString(line) {
			return lines[:i]
		}
	}
	return lines
}
