package extraction

import (
	"bytes"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	downloadExtensions = map[string]bool{
		"pdf": true, "zip": true, "tar": true, "gz": true,
		"exe": true, "dmg": true, "apk": true, "ipa": true,
	}
	paginationTextRe = regexp.MustCompile(`(?i)^next$|^prev(ious)?$|^\d+$`)
)

// Extract parses raw HTML into a StructuredData record. All parsing is
// tolerant: malformed JSON-LD blocks are dropped, never fatal.
func Extract(html []byte, finalURL string) (*StructuredData, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(finalURL)

	sd := &StructuredData{
		FinalURL:    finalURL,
		OpenGraph:   make(map[string]string),
		MetaTags:    make(map[string]string),
		TwitterCard: make(map[string]string),
	}

	extractMeta(doc, sd)
	extractLangAndCanonical(doc, sd, base)
	extractJSONLD(doc, sd)
	extractMicrodata(doc, sd)
	extractHeadings(doc, sd)
	extractForms(doc, sd, base)
	extractLinks(doc, sd, base)
	extractImages(doc, sd)
	extractTables(doc, sd)
	extractTextMetrics(doc, sd, len(html))

	return sd, nil
}

func extractMeta(doc *goquery.Document, sd *StructuredData) {
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, _ := s.Attr("content")
		if name, ok := s.Attr("name"); ok {
			sd.MetaTags[strings.ToLower(name)] = content
			if strings.HasPrefix(name, "twitter:") {
				sd.TwitterCard[name] = content
			}
		}
		if prop, ok := s.Attr("property"); ok && strings.HasPrefix(prop, "og:") {
			sd.OpenGraph[prop] = content
		}
	})
}

func extractLangAndCanonical(doc *goquery.Document, sd *StructuredData, base *url.URL) {
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		sd.Lang = strings.ToLower(strings.TrimSpace(lang))
	}
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		sd.CanonicalURL = resolveURL(base, href)
	}
}

func extractJSONLD(doc *goquery.Document, sd *StructuredData) {
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &obj); err == nil {
			sd.JSONLD = append(sd.JSONLD, obj)
			return
		}
		var arr []map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &arr); err == nil {
			sd.JSONLD = append(sd.JSONLD, arr...)
		}
		// malformed block: dropped, not fatal.
	})
}

func extractMicrodata(doc *goquery.Document, sd *StructuredData) {
	doc.Find("[itemscope]").Each(func(_ int, s *goquery.Selection) {
		item := make(map[string]any)
		if itemType, ok := s.Attr("itemtype"); ok {
			item["@type"] = itemType
		}
		s.Find("[itemprop]").Each(func(_ int, prop *goquery.Selection) {
			name, _ := prop.Attr("itemprop")
			val := prop.AttrOr("content", strings.TrimSpace(prop.Text()))
			item[name] = val
		})
		sd.Microdata = append(sd.Microdata, item)
	})
}

func extractHeadings(doc *goquery.Document, sd *StructuredData) {
	for level := 1; level <= 6; level++ {
		sel := "h" + strconv.Itoa(level)
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			sd.Headings = append(sd.Headings, Heading{Level: level, Text: strings.TrimSpace(s.Text())})
		})
	}
}

func extractForms(doc *goquery.Document, sd *StructuredData, base *url.URL) {
	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		method := strings.ToUpper(s.AttrOr("method", "GET"))
		action := resolveURL(base, s.AttrOr("action", ""))
		form := Form{Method: method, Action: action}
		s.Find("input, select, textarea").Each(func(_ int, f *goquery.Selection) {
			name, _ := f.Attr("name")
			typ := f.AttrOr("type", strings.ToLower(goquery.NodeName(f)))
			form.Fields = append(form.Fields, FormField{Name: name, Type: typ})
			if typ == "search" {
				sd.HasSearchForm = true
			}
		})
		sd.Forms = append(sd.Forms, form)
	})
	if sd.Forms == nil {
		return
	}
	doc.Find(`input[type="search"], form[role="search"]`).Each(func(_ int, _ *goquery.Selection) {
		sd.HasSearchForm = true
	})
}

func extractLinks(doc *goquery.Document, sd *StructuredData, base *url.URL) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		rel, _ := s.Attr("rel")
		text := strings.TrimSpace(s.Text())
		_, hasDownloadAttr := s.Attr("download")

		link := Link{
			Rel:      rel,
			Text:     text,
			Nofollow: strings.Contains(rel, "nofollow"),
		}

		if strings.HasPrefix(href, "#") {
			link.URL = href
			link.Type = LinkAnchor
			sd.Links = append(sd.Links, link)
			return
		}

		resolved := resolveURL(base, href)
		link.URL = resolved
		link.Type = classifyLink(resolved, text, hasDownloadAttr, s, base)
		sd.Links = append(sd.Links, link)
	})
}

// classifyLink implements the deterministic link classification
// precedence: download > breadcrumb > pagination > external > internal.
func classifyLink(resolved, text string, hasDownloadAttr bool, node *goquery.Selection, base *url.URL) LinkType {
	if hasDownloadAttr || hasDownloadExtension(resolved) {
		return LinkDownload
	}
	if hasAncestorBreadcrumb(node) {
		return LinkBreadcrumb
	}
	if paginationTextRe.MatchString(text) || hasAncestorClassContaining(node, "pagination") {
		return LinkPagination
	}
	if differentHost(resolved, base) {
		return LinkExternal
	}
	return LinkInternal
}

func hasDownloadExtension(u string) bool {
	path := u
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	ext := ""
	if i := strings.LastIndex(path, "."); i >= 0 {
		ext = strings.ToLower(path[i+1:])
	}
	return downloadExtensions[ext]
}

func hasAncestorBreadcrumb(s *goquery.Selection) bool {
	found := false
	s.ParentsFiltered("*").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		ariaLabel, _ := p.Attr("aria-label")
		class, _ := p.Attr("class")
		if strings.Contains(strings.ToLower(ariaLabel), "breadcrumb") || strings.Contains(strings.ToLower(class), "breadcrumb") {
			found = true
			return false
		}
		return true
	})
	return found
}

func hasAncestorClassContaining(s *goquery.Selection, needle string) bool {
	found := false
	s.ParentsFiltered("*").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		class, _ := p.Attr("class")
		if strings.Contains(strings.ToLower(class), needle) {
			found = true
			return false
		}
		return true
	})
	return found
}

func differentHost(resolved string, base *url.URL) bool {
	u, err := url.Parse(resolved)
	if err != nil || base == nil {
		return false
	}
	return u.Host != "" && !strings.EqualFold(u.Host, base.Host)
}

func resolveURL(base *url.URL, ref string) string {
	if base == nil || ref == "" {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}

func extractImages(doc *goquery.Document, sd *StructuredData) {
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := s.AttrOr("src", "")
		alt := s.AttrOr("alt", "")
		sd.Images = append(sd.Images, Image{URL: src, Alt: alt})
	})
	sd.VideoCount = doc.Find("video, iframe[src*='youtube'], iframe[src*='vimeo']").Length()
}

func extractTables(doc *goquery.Document, sd *StructuredData) {
	doc.Find("table").Each(func(_ int, s *goquery.Selection) {
		rows := s.Find("tr").Length()
		cols := s.Find("tr").First().Find("td, th").Length()
		sd.Tables = append(sd.Tables, Table{Rows: rows, Columns: cols})
	})
}

func extractTextMetrics(doc *goquery.Document, sd *StructuredData, htmlLen int) {
	text := strings.TrimSpace(doc.Find("body").Text())
	sd.TextLength = len(text)
	if htmlLen > 0 {
		sd.TextDensity = float64(sd.TextLength) / float64(htmlLen)
	}
	if sd.TextDensity > 1 {
		sd.TextDensity = 1
	}
}
