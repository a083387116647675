package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const promptHeader = `Analyze the following batch of customer reviews. Provide a valid JSON object with:
1. "sentiment_breakdown": An object with "positive_pct", "neutral_pct", and "negative_pct" as percentages.
2. "top_praise": A short string summarizing the most common positive point.
3. "top_issue": A short string summarizing the most common negative point.

Reviews:
`

const promptFooter = `

JSON Response:`

// RenderPrompt builds the user prompt for one product's batch of review texts.
func RenderPrompt(texts []string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	for i, text := range texts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Review %d: %s", i+1, PlainText(text))
	}
	b.WriteString(promptFooter)
	return b.String()
}

// tagPattern matches a complete start or end tag. A '<' outside such a match is
// review text ("a<b", "5 stars <recommend").
var tagPattern = regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9]*(?:\s[^<>]*)?/?>`)

// PlainText drops HTML markup and entities that raw review bodies carry
// (mostly <br /> and links). Line breaks are kept as newlines and every
// character outside a tag is kept.
func PlainText(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return strings.TrimSpace(text)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(escapeStrayBrackets(text)))
	if err != nil {
		return strings.TrimSpace(text)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(doc.Text())
}

func escapeStrayBrackets(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range tagPattern.FindAllStringIndex(text, -1) {
		b.WriteString(strings.ReplaceAll(text[last:loc[0]], "<", "&lt;"))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(strings.ReplaceAll(text[last:], "<", "&lt;"))
	return b.String()
}
