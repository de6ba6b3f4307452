package acquisition

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cortexmap/cortex/internal/classify"
	"github.com/cortexmap/cortex/internal/extraction"
	"github.com/cortexmap/cortex/internal/sitemap"
)

// contentCommerceCoverageFloor is how many of the 48 content+commerce
// dimensions (16-63) must already be non-zero before Layer 1.5's
// selector-based fallback is skipped.
const contentCommerceCoverageFloor = 20

// contentCommerceStart and contentCommerceEnd bound the dimension range
// Layer 1.5 checks for coverage.
const (
	contentCommerceStart = 16
	contentCommerceEnd   = 63
)

// structuredCoverage counts how many of the content/commerce dimensions
// already carry a non-zero value.
func structuredCoverage(f [sitemap.FeatureDim]float32) int {
	n := 0
	for i := contentCommerceStart; i <= contentCommerceEnd; i++ {
		if f[i] != 0 {
			n++
		}
	}
	return n
}

// priceSelectors are generic e-commerce CSS patterns tried in order when
// structured data left price unpopulated. They cover the markup
// conventions most storefront themes converge on even without schema.org
// annotations.
var priceSelectors = []string{
	"[itemprop='price']", "[data-price]", ".price", ".product-price",
	".price-amount", "span.price", "p.price", "[class*='price']:not([class*='price-range'])",
}

var ratingSelectors = []string{
	"[itemprop='ratingValue']", "[data-rating]", ".rating-value", ".star-rating",
}

var priceDigits = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)?`)

// RunLayer15 applies the CSS-selector pattern engine to any sampled page
// whose content/commerce coverage fell below contentCommerceCoverageFloor,
// re-running the encoder afterward so the improved fields propagate.
func RunLayer15(pages []SampledPage) []SampledPage {
	for i := range pages {
		p := &pages[i]
		if structuredCoverage(p.Features) >= contentCommerceCoverageFloor {
			continue
		}
		if len(p.RawHTML) == 0 {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.RawHTML))
		if err != nil {
			continue
		}
		applySelectorFallback(doc, p)
		p.Features = classify.EncodeFeatures(p.Data, p.Nav, p.PageType, p.Confidence)
	}
	return pages
}

func applySelectorFallback(doc *goquery.Document, p *SampledPage) {
	if p.Features[sitemap.FeatPrice] == 0 {
		if price, ok := selectPrice(doc); ok {
			injectOffer(p.Data, price)
		}
	}
	if p.Features[sitemap.FeatRating] == 0 {
		if rating, ok := selectFirstNumber(doc, ratingSelectors); ok {
			injectRating(p.Data, rating)
		}
	}
	if len(p.Data.Headings) == 0 {
		if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
			p.Data.Headings = append(p.Data.Headings, extraction.Heading{Level: 1, Text: h1})
		}
	}
}

func selectPrice(doc *goquery.Document) (float32, bool) {
	for _, sel := range priceSelectors {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		if text == "" {
			continue
		}
		match := priceDigits.FindString(text)
		if match == "" {
			continue
		}
		match = strings.ReplaceAll(match, ",", "")
		v, err := strconv.ParseFloat(match, 64)
		if err != nil {
			continue
		}
		return float32(v), true
	}
	return 0, false
}

func selectFirstNumber(doc *goquery.Document, selectors []string) (float32, bool) {
	for _, sel := range selectors {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		if text == "" {
			continue
		}
		match := priceDigits.FindString(text)
		if match == "" {
			continue
		}
		v, err := strconv.ParseFloat(match, 64)
		if err != nil {
			continue
		}
		return float32(v), true
	}
	return 0, false
}

// injectOffer synthesizes a minimal JSON-LD-shaped offers object so the
// encoder's existing schema.org extraction path picks up the
// selector-derived price without a second code path.
func injectOffer(sd *extraction.StructuredData, price float32) {
	sd.JSONLD = append(sd.JSONLD, map[string]any{
		"@type":  "Product",
		"offers": map[string]any{"price": float64(price)},
	})
}

// injectRating synthesizes a minimal aggregateRating object, same reasoning
// as injectOffer.
func injectRating(sd *extraction.StructuredData, rating float32) {
	sd.JSONLD = append(sd.JSONLD, map[string]any{
		"@type":           "Product",
		"aggregateRating": map[string]any{"ratingValue": float64(rating)},
	})
}
