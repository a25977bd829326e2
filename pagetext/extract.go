// Package pagetext turns scraped product pages into the plain text the
// analysis engine reads.
package pagetext

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MaxChars bounds the text handed to the analysis engine.
const MaxChars = 20000

var urlLine = regexp.MustCompile(`URL: (https?://\S+)`)

// Extract returns the visible text of an HTML document, one trimmed line per
// block of text, with scripts and styling removed.
func Extract(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, noscript, template, svg, iframe").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var lines []string
	for _, line := range strings.Split(root.Text(), "\n") {
		if collapsed := strings.Join(strings.Fields(line), " "); collapsed != "" {
			lines = append(lines, collapsed)
		}
	}

	text := strings.Join(lines, "\n")
	if len(text) > MaxChars {
		text = truncate(text, MaxChars)
	}
	return text, nil
}

// FindURL returns the product URL embedded in extension plain text as a
// "URL: <url>" line, or "" when absent.
func FindURL(text string) string {
	m := urlLine.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// truncate cuts at a rune boundary at or before n bytes.
func truncate(s string, n int) string {
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
