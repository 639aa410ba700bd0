package enrichment

import (
	"encoding/json"
	"io"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	minJSONLDDescription   = 50
	minSelectorDescription = 100
	maxApplyLinkText       = 50
)

var descriptionSelectors = []string{
	"#job-description",
	"#job_description",
	"#jobDescriptionText",
	".job-description",
	".job_description",
	"[class*='job-description']",
	"[class*='jobDescription']",
	"[data-testid*='description']",
	"[data-automation*='jobDescription']",
	".ashby-job-posting-description",
	"[class*='posting-description']",
	".posting-page .section-wrapper",
	"[class*='job-detail']",
	"[class*='jobDetail']",
	"main article",
	"article[class*='job']",
	"[role='main']",
	"main",
}

var applySelectors = []string{
	"a[href*='apply']",
	"a[data-testid*='apply']",
	"a[class*='apply']",
	"a#apply_button",
	"a.postings-btn",
	".postings-btn-wrapper a",
	"a.ashby-job-posting-apply-button",
	"a[data-qa='btn-apply']",
	"a[data-automation*='apply']",
	"a[aria-label*='Apply']",
}

// noise is stripped before selector matching.
const noise = "nav, footer, header, script, style, noscript, iframe, svg"

// Extract pulls a Detail out of an HTML page. JSON-LD JobPosting data wins;
// otherwise the first description selector with enough text is used and the
// apply link is located separately. Links are resolved against pageURL.
func Extract(pageURL string, r io.Reader) (Detail, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Detail{}, err
	}
	base, _ := url.Parse(pageURL)

	var detail Detail
	if ld, ok := jsonLDPosting(doc); ok {
		detail = ld
	}

	doc.Find(noise).Remove()
	if detail.FullDescription == "" {
		for _, sel := range descriptionSelectors {
			node := doc.Find(sel).First()
			if node.Length() == 0 {
				continue
			}
			text := nodeText(node)
			if len([]rune(text)) >= minSelectorDescription {
				detail.FullDescription = text
				break
			}
		}
	}
	if detail.ApplicationURL == "" {
		detail.ApplicationURL = applyLink(doc)
	}
	detail.ApplicationURL = resolve(base, detail.ApplicationURL)
	return detail, nil
}

func jsonLDPosting(doc *goquery.Document) (Detail, bool) {
	var found Detail
	ok := false
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		posting, hit := findJobPosting(raw)
		if !hit {
			return true
		}
		desc, _ := posting["description"].(string)
		desc = htmlToText(desc)
		if len([]rune(desc)) < minJSONLDDescription {
			return true
		}
		found = Detail{FullDescription: desc, ApplicationURL: jsonLDApplyURL(posting)}
		ok = true
		return false
	})
	return found, ok
}

func findJobPosting(v any) (map[string]any, bool) {
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			if posting, ok := findJobPosting(item); ok {
				return posting, true
			}
		}
	case map[string]any:
		if isJobPosting(node["@type"]) {
			return node, true
		}
		if graph, ok := node["@graph"]; ok {
			return findJobPosting(graph)
		}
	}
	return nil, false
}

func isJobPosting(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "JobPosting"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "JobPosting" {
				return true
			}
		}
	}
	return false
}

func jsonLDApplyURL(posting map[string]any) string {
	link, _ := posting["url"].(string)
	if direct, ok := posting["directApply"].(bool); ok && direct && link != "" {
		return link
	}
	if contact, ok := posting["applicationContact"].(map[string]any); ok {
		if u, ok := contact["url"].(string); ok && u != "" {
			return u
		}
	}
	return link
}

func applyLink(doc *goquery.Document) string {
	for _, sel := range applySelectors {
		var href string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if h, ok := s.Attr("href"); ok && usableHref(h) {
				href = h
				return false
			}
			return true
		})
		if href != "" {
			return href
		}
	}
	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if !strings.Contains(text, "apply") || len(text) >= maxApplyLinkText {
			return true
		}
		if h, _ := s.Attr("href"); usableHref(h) {
			href = h
			return false
		}
		return true
	})
	return href
}

func usableHref(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" {
		return false
	}
	return !strings.HasPrefix(strings.ToLower(href), "javascript:")
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// htmlToText renders an HTML fragment as plain lines: block elements and
// <br> break lines, list items get a "- " prefix.
func htmlToText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return cleanWhitespace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return cleanWhitespace(fragment)
	}
	return nodeText(doc.Selection)
}

func nodeText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeText(&b, n)
	}
	return cleanWhitespace(b.String())
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		words := strings.Fields(n.Data)
		if len(words) == 0 {
			if n.Data != "" {
				b.WriteByte(' ')
			}
			return
		}
		if strings.TrimLeftFunc(n.Data, unicode.IsSpace) != n.Data {
			b.WriteByte(' ')
		}
		b.WriteString(strings.Join(words, " "))
		if strings.TrimRightFunc(n.Data, unicode.IsSpace) != n.Data {
			b.WriteByte(' ')
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "br":
			b.WriteByte('\n')
			return
		case "li":
			b.WriteString("\n- ")
		case "p", "div", "section", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "tr":
			b.WriteByte('\n')
		case "script", "style":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "section", "li", "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteByte('\n')
		}
	}
}

func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
