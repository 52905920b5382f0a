package scrape

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	trailingSpaceBeforeNewlineRE = regexp.MustCompile(` +\n`)
	leadingSpaceAfterNewlineRE   = regexp.MustCompile(`\n +`)
)

// ScrapeHomework parses a homework response body into a {lessonID:
// markdown} map containing zero or one entry.
func ScrapeHomework(body string) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return map[string]string{}, nil
	}

	lessonID := ""
	doc.Find(`input[type="hidden"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id, ok := s.Attr("id")
		if !ok || !strings.HasPrefix(id, "LektionsID") {
			return true
		}
		value, _ := s.Attr("value")
		if value == "" {
			return true
		}
		lessonID = value
		return false
	})
	if lessonID == "" {
		return map[string]string{}, nil
	}

	var header *goquery.Selection
	doc.Find("b").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) == "Heimaarbeiði" {
			header = s
			return false
		}
		return true
	})
	if header == nil {
		return map[string]string{}, nil
	}

	block := header.Parent()
	if block.Length() == 0 || goquery.NodeName(block) != "p" {
		// The homework block is always the header's parent <p>; if the
		// upstream layout deviates, treat it as absent rather than guess.
		return map[string]string{}, nil
	}

	markdown := renderHomeworkBlock(block.Get(0), header.Get(0))
	markdown = collapseMarkdownWhitespace(markdown)
	if markdown == "" {
		return map[string]string{}, nil
	}
	return map[string]string{lessonID: markdown}, nil
}

func renderHomeworkBlock(p, headerNode *html.Node) string {
	var sb strings.Builder
	droppedHeader := false
	droppedBr := false
	for child := p.FirstChild; child != nil; child = child.NextSibling {
		if child == headerNode {
			droppedHeader = true
			continue
		}
		if droppedHeader && !droppedBr && child.Type == html.ElementNode && child.Data == "br" {
			droppedBr = true
			continue
		}
		sb.WriteString(renderNode(child))
	}
	return sb.String()
}

func renderNode(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return n.Data
	case html.ElementNode:
		switch n.Data {
		case "br":
			return "\n"
		case "b":
			return "**" + strings.TrimSpace(renderChildren(n)) + "**"
		case "i":
			return "*" + strings.TrimSpace(renderChildren(n)) + "*"
		default:
			return renderChildren(n)
		}
	default:
		return renderChildren(n)
	}
}

func renderChildren(n *html.Node) string {
	var sb strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		sb.WriteString(renderNode(child))
	}
	return sb.String()
}

func collapseMarkdownWhitespace(s string) string {
	s = trailingSpaceBeforeNewlineRE.ReplaceAllString(s, "\n")
	s = leadingSpaceAfterNewlineRE.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}
