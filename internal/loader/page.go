package loader

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// pageTitle returns the trimmed document title, or "" when body is not
// HTML or has none.
func pageTitle(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}
