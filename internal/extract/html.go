package extract

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
)

// invisibleElements never contribute to visible text.
var invisibleElements = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
}

var licensePattern = regexp.MustCompile(`(?i)license`)

type htmlDocument struct {
	doc    *goquery.Document
	markup string
}

// parseHTML decodes body to UTF-8 when it is not already (fetchers may have
// transcoded it) and parses it.
func parseHTML(body []byte, contentType string) (*htmlDocument, error) {
	markup := string(body)
	if !utf8.Valid(body) {
		if reader, err := charset.NewReader(bytes.NewReader(body), contentType); err == nil {
			if decoded, readErr := io.ReadAll(reader); readErr == nil {
				markup = string(decoded)
			}
		}
		markup = strings.ToValidUTF8(markup, "�")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &htmlDocument{doc: doc, markup: markup}, nil
}

// visibleText returns every text node outside script-like elements,
// whitespace-collapsed and joined with single spaces.
func (d *htmlDocument) visibleText() string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			for _, field := range strings.Fields(n.Data) {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(field)
			}
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			if _, skip := invisibleElements[strings.ToLower(n.Data)]; skip {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range d.doc.Nodes {
		walk(n)
	}
	return b.String()
}

func (d *htmlDocument) declaredLanguage() string {
	lang, _ := d.doc.Find("html").First().Attr("lang")
	return strings.TrimSpace(lang)
}

func (d *htmlDocument) metaRobots() *string {
	var directive *string
	d.doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("name", "")), "robots") {
			return true
		}
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return true
		}
		directive = &content
		return false
	})
	return directive
}

func (d *htmlDocument) license() string {
	var found *goquery.Selection
	d.doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if licensePattern.MatchString(s.AttrOr("name", "")) {
			found = s
			return false
		}
		return true
	})
	if found == nil {
		d.doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if licensePattern.MatchString(s.AttrOr("rel", "")) {
				found = s
				return false
			}
			return true
		})
	}
	if found != nil {
		if content := strings.TrimSpace(found.AttrOr("content", "")); content != "" {
			return content
		}
		if href := strings.TrimSpace(found.AttrOr("href", "")); href != "" {
			return href
		}
	}
	if strings.Contains(strings.ToLower(d.doc.Text()), "creativecommons") {
		return crawler.LicenseCreativeCommons
	}
	return crawler.LicenseUnknown
}

// links returns resolved http(s) hyperlinks in document order, without duplicates.
func (d *htmlDocument) links(pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	if href, ok := d.doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}
	seen := make(map[string]struct{})
	var out []string
	d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		link, ok := crawler.ResolveLink(base, s.AttrOr("href", ""))
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		out = append(out, link)
	})
	return out
}
