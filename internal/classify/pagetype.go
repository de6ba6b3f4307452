// Package classify turns extracted page content into a PageType
// classification, a 128-dim feature vector and a set of discovered actions.
package classify

import (
	"strings"

	"github.com/cortexmap/cortex/internal/extraction"
	"github.com/cortexmap/cortex/internal/sitemap"
)

// urlRule is one entry in the built-in URL pattern ruleset.
type urlRule struct {
	patterns   []string
	pageType   sitemap.PageType
	confidence float32
}

// urlRules is evaluated top-down; the first matching rule wins.
var urlRules = []urlRule{
	{[]string{"/dp/", "/p/", "/product/", "/item/", "/products/", "/pd/"}, sitemap.PageProductDetail, 0.8},
	{[]string{"/search", "/s?", "?q="}, sitemap.PageSearchResults, 0.8},
	{[]string{"/category/", "/c/", "/collections/", "/shop/"}, sitemap.PageProductListing, 0.7},
	{[]string{"/cart", "/basket", "/bag"}, sitemap.PageCart, 0.85},
	{[]string{"/checkout"}, sitemap.PageCheckout, 0.85},
	{[]string{"/login", "/signin", "/sign-in", "/auth"}, sitemap.PageLogin, 0.85},
	{[]string{"/account", "/profile", "/settings"}, sitemap.PageAccount, 0.7},
	{[]string{"/blog/", "/post/", "/article/", "/news/", "/stories/"}, sitemap.PageArticle, 0.75},
	{[]string{"/docs/", "/documentation/", "/wiki/", "/guide/"}, sitemap.PageDocumentation, 0.7},
	{[]string{"/about"}, sitemap.PageAboutPage, 0.85},
	{[]string{"/contact"}, sitemap.PageContactPage, 0.85},
	{[]string{"/faq", "/help"}, sitemap.PageFaq, 0.8},
	{[]string{"/pricing", "/plans"}, sitemap.PagePricingPage, 0.85},
	{[]string{"/privacy", "/terms", "/tos", "/legal"}, sitemap.PageLegal, 0.8},
	{[]string{"/download"}, sitemap.PageDownloadPage, 0.8},
	{[]string{"/forum", "/discuss", "/community"}, sitemap.PageForum, 0.7},
	{[]string{"/sitemap"}, sitemap.PageSitemapPage, 0.8},
	{[]string{"/archive", "/tags/", "/categories/"}, sitemap.PageProductListing, 0.5},
}

// schemaTypes maps a lower-cased schema.org/JSON-LD @type to a PageType.
var schemaTypes = map[string]sitemap.PageType{
	"product":               sitemap.PageProductDetail,
	"article":               sitemap.PageArticle,
	"newsarticle":           sitemap.PageArticle,
	"blogposting":           sitemap.PageArticle,
	"faqpage":               sitemap.PageFaq,
	"aboutpage":             sitemap.PageAboutPage,
	"contactpage":           sitemap.PageContactPage,
	"collectionpage":        sitemap.PageSearchResults,
	"searchresultspage":     sitemap.PageSearchResults,
	"itemlist":              sitemap.PageProductListing,
	"offerlist":             sitemap.PageProductListing,
	"checkoutpage":          sitemap.PageCheckout,
	"profilepage":           sitemap.PageAccount,
	"mediagallery":          sitemap.PageMediaPage,
	"imageobject":           sitemap.PageMediaPage,
	"videoobject":           sitemap.PageMediaPage,
	"discussionforumposting": sitemap.PageForum,
	"review":                sitemap.PageReviewList,
}

// ClassifyPage runs the four-stage classification pipeline: schema.org
// metadata first (if confidence > 0.8 it wins outright), then URL pattern,
// then DOM heuristics — DOM and URL agreeing boosts confidence, otherwise
// the higher-confidence signal wins — and finally, only when URL pattern
// fell through to the unknown default, heading-text keyword matching.
func ClassifyPage(sd *extraction.StructuredData, rawURL string) (sitemap.PageType, float32) {
	if pt, conf, ok := classifyFromSchema(sd); ok && conf > 0.8 {
		return pt, conf
	}

	urlType, urlConf := classifyFromURL(rawURL)

	if pt, conf, ok := classifyFromDOM(sd); ok {
		if pt == urlType {
			return pt, clamp01((conf+urlConf)/2.0+0.1)
		}
		if conf > urlConf {
			return pt, conf
		}
	}

	if urlType == sitemap.PageUnknown {
		if pt, conf, ok := classifyFromHeadings(sd); ok {
			return pt, conf
		}
	}

	return urlType, urlConf
}

// headingRule matches keywords against the text of a page's headings. Run
// only as a last resort, after schema, URL and DOM signals fell through to
// unknown, since heading wording is the weakest of the four signals.
type headingRule struct {
	keywords []string
	pageType sitemap.PageType
}

var headingRules = []headingRule{
	{[]string{"frequently asked", "faq"}, sitemap.PageFaq},
	{[]string{"privacy policy", "terms of service", "terms and conditions"}, sitemap.PageLegal},
	{[]string{"contact us", "get in touch"}, sitemap.PageContactPage},
	{[]string{"about us", "our story", "who we are"}, sitemap.PageAboutPage},
	{[]string{"sign in", "log in", "welcome back"}, sitemap.PageLogin},
	{[]string{"create account", "sign up", "register"}, sitemap.PageAccount},
	{[]string{"your cart", "shopping cart", "your bag"}, sitemap.PageCart},
	{[]string{"checkout", "payment details", "shipping details"}, sitemap.PageCheckout},
	{[]string{"search results", "results for"}, sitemap.PageSearchResults},
	{[]string{"page not found", "404", "error"}, sitemap.PageErrorPage},
	{[]string{"pricing", "choose your plan"}, sitemap.PagePricingPage},
}

func classifyFromHeadings(sd *extraction.StructuredData) (sitemap.PageType, float32, bool) {
	for _, h := range sd.Headings {
		text := strings.ToLower(h.Text)
		for _, rule := range headingRules {
			for _, kw := range rule.keywords {
				if strings.Contains(text, kw) {
					return rule.pageType, 0.55, true
				}
			}
		}
	}
	return sitemap.PageUnknown, 0, false
}

func classifyFromSchema(sd *extraction.StructuredData) (sitemap.PageType, float32, bool) {
	for _, obj := range sd.JSONLD {
		t, _ := obj["@type"].(string)
		if t == "" {
			continue
		}
		if pt, ok := schemaTypes[strings.ToLower(t)]; ok {
			return pt, 0.95, true
		}
	}
	return sitemap.PageUnknown, 0, false
}

func classifyFromURL(rawURL string) (sitemap.PageType, float32) {
	path := strings.ToLower(extractPath(rawURL))
	if path == "/" || path == "" {
		return sitemap.PageHome, 0.9
	}
	for _, r := range urlRules {
		for _, pat := range r.patterns {
			if strings.Contains(path, pat) {
				return r.pageType, r.confidence
			}
		}
	}
	if strings.HasSuffix(path, ".pdf") || strings.HasSuffix(path, ".zip") || strings.HasSuffix(path, ".tar.gz") {
		return sitemap.PageDownloadPage, 0.9
	}
	if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".png") || strings.HasSuffix(path, ".gif") || strings.HasSuffix(path, ".mp4") {
		return sitemap.PageMediaPage, 0.9
	}
	return sitemap.PageUnknown, 0.3
}

// classifyFromDOM implements the DOM heuristic stage: pricing
// element + itemscope[itemtype*=Product] -> product; form density + a
// single form with a password field -> login.
func classifyFromDOM(sd *extraction.StructuredData) (sitemap.PageType, float32, bool) {
	hasPrice := false
	for _, item := range sd.Microdata {
		if t, ok := item["@type"].(string); ok && strings.Contains(strings.ToLower(t), "product") {
			hasPrice = true
		}
	}
	if _, ok := sd.MetaTags["product:price:amount"]; ok {
		hasPrice = true
	}

	hasPasswordField := false
	for _, f := range sd.Forms {
		for _, field := range f.Fields {
			if field.Type == "password" {
				hasPasswordField = true
			}
		}
	}

	if hasPrice {
		return sitemap.PageProductDetail, 0.85, true
	}
	if len(sd.Forms) == 1 && hasPasswordField {
		return sitemap.PageLogin, 0.85, true
	}
	if len(sd.Forms) >= 3 {
		return sitemap.PageCheckout, 0.6, true
	}
	if len(sd.Headings) >= 2 && sd.TextDensity > 0.3 {
		return sitemap.PageArticle, 0.7, true
	}
	return sitemap.PageUnknown, 0, false
}

func extractPath(rawURL string) string {
	rest := rawURL
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i:]
	}
	return "/"
}
