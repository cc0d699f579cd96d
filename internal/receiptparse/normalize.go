package receiptparse

import (
	"regexp"
	"strings"
)

var (
	reBreakTag    = regexp.MustCompile(`(?i)<br\s*/?>`)
	reBlockClose  = regexp.MustCompile(`(?i)</(p|div|tr|li|h[1-6]|table|tbody|thead|section|article|header|footer|ul|ol)\s*>`)
	reAnyTag      = regexp.MustCompile(`<[^>]*>`)
	reSpaceRun    = regexp.MustCompile(`[ \t]+`)
	reCRLF        = regexp.MustCompile(`\r\n?`)
	entityDecoder = strings.NewReplacer(
		"&nbsp;", "\u00a0",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&amp;", "&",
	)
)

// StripHTMLToText turns an HTML email body into plain text. Line breaks and
// closing block tags become newlines, remaining tags are dropped, and only
// the six common entities are decoded.
func StripHTMLToText(html string) string {
	if html == "" {
		return ""
	}
	s := reCRLF.ReplaceAllString(html, "\n")
	s = reBreakTag.ReplaceAllString(s, "\n")
	s = reBlockClose.ReplaceAllString(s, "\n")
	s = reAnyTag.ReplaceAllString(s, "")
	return entityDecoder.Replace(s)
}

// NormalizeFreeText normalizes a single line: NBSP to space, runs of
// spaces/tabs collapsed, ends trimmed.
func NormalizeFreeText(line string) string {
	line = strings.ReplaceAll(line, "\u00a0", " ")
	line = reSpaceRun.ReplaceAllString(line, " ")
	return strings.TrimSpace(line)
}

// BuildParseableRaw concatenates the plain-text body (first) and the
// stripped HTML body, normalizes every line and drops empty ones.
func BuildParseableRaw(html, text string) string {
	var parts []string
	if text != "" {
		parts = append(parts, text)
	}
	if html != "" {
		parts = append(parts, StripHTMLToText(html))
	}
	joined := reCRLF.ReplaceAllString(strings.Join(parts, "\n"), "\n")

	lines := strings.Split(joined, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if n := NormalizeFreeText(l); n != "" {
			out = append(out, n)
		}
	}
	return strings.Join(out, "\n")
}
