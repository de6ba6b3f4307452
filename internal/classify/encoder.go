package classify

import (
	"math"
	"strconv"
	"strings"

	"github.com/cortexmap/cortex/internal/extraction"
	"github.com/cortexmap/cortex/internal/sitemap"
)

// NavInfo carries the acquisition-layer facts the encoder needs that don't
// come from extraction: timing, redirects, and the URL actually used.
type NavInfo struct {
	URL           string
	Depth         uint32
	LoadTimeMS    uint64
	RedirectCount int
	HTTPStatus    int
	RobotsAllowed bool
}

// EncodeFeatures builds a 128-dim feature row for one rendered or
// HTTP-sampled page: log text length/6, form-field count/30, review
// log/6, raw price, plus the remaining identity/content/commerce/
// navigation/trust dimensions. Reading level and sentiment are not
// computed and stay 0.0.
func EncodeFeatures(sd *extraction.StructuredData, nav NavInfo, pageType sitemap.PageType, confidence float32) [sitemap.FeatureDim]float32 {
	var f [sitemap.FeatureDim]float32

	encodeIdentity(sd, nav, pageType, confidence, &f)
	encodeContent(sd, &f)
	encodeCommerce(sd, &f)
	encodeNavigation(sd, &f)
	encodeTrust(sd, nav, &f)
	encodeActions(sd, &f)

	return f
}

func encodeIdentity(sd *extraction.StructuredData, nav NavInfo, pageType sitemap.PageType, confidence float32, f *[sitemap.FeatureDim]float32) {
	f[sitemap.FeatPageType] = float32(pageType) / sitemap.MaxPageTypeOrdinal
	f[sitemap.FeatConfidence] = confidence
	// FeatLanguage has one slot, not a per-language embedding, so it encodes
	// the binary "is this page in English" signal; a missing lang attribute
	// is treated as English since that's the common unlabeled default.
	f[sitemap.FeatLanguage] = boolF(sd.Lang == "" || strings.HasPrefix(sd.Lang, "en"))
	f[sitemap.FeatDepth] = clamp01(float32(nav.Depth) / 10.0)
	f[sitemap.FeatIsAuthArea] = boolF(pageType == sitemap.PageLogin || pageType == sitemap.PageAccount)
	f[sitemap.FeatPaywall] = boolF(isPaywalled(sd))
	f[sitemap.FeatMobile] = boolF(hasViewportMeta(sd))
	f[sitemap.FeatLoadTime] = 1.0 - clamp01(float32(nav.LoadTimeMS)/10000.0)
	f[sitemap.FeatIsHTTPS] = boolF(strings.HasPrefix(nav.URL, "https://"))
	f[sitemap.FeatURLPathDepth] = clamp01(float32(PathDepth(nav.URL)) / 10.0)
	f[sitemap.FeatURLHasQuery] = boolF(strings.Contains(nav.URL, "?"))
	f[sitemap.FeatURLHasFragment] = boolF(strings.Contains(nav.URL, "#"))
	f[sitemap.FeatCanonical] = boolF(sd.CanonicalURL != "")
	f[sitemap.FeatHasStructuredData] = hasStructuredData(sd)
	f[sitemap.FeatMetaRobotsIndex] = metaRobotsIndex(sd)
	f[sitemap.FeatRedirectCount] = clamp01(float32(nav.RedirectCount) / 5.0)
}

// isPaywalled reports a metered/hard paywall: either schema.org's
// isAccessibleForFree explicitly set to false, or a "paywall" meta tag.
func isPaywalled(sd *extraction.StructuredData) bool {
	for _, obj := range sd.JSONLD {
		if free, ok := obj["isAccessibleForFree"].(bool); ok && !free {
			return true
		}
	}
	if v := strings.ToLower(sd.MetaTags["paywall"]); v == "true" || v == "1" {
		return true
	}
	return false
}

func hasViewportMeta(sd *extraction.StructuredData) bool {
	_, ok := sd.MetaTags["viewport"]
	return ok
}

func hasStructuredData(sd *extraction.StructuredData) float32 {
	if len(sd.JSONLD) > 0 || len(sd.Microdata) > 0 {
		return 1.0
	}
	if len(sd.OpenGraph) > 0 {
		return 0.5
	}
	return 0.0
}

func metaRobotsIndex(sd *extraction.StructuredData) float32 {
	robots := strings.ToLower(sd.MetaTags["robots"])
	if strings.Contains(robots, "noindex") {
		return 0.0
	}
	return 1.0
}

// PathDepth counts non-empty path segments in rawURL, ignoring any query
// or fragment. Exported so callers building feature rows for URLs that were
// never fetched (interpolation, unsampled-node placeholders) can compute
// dimension FeatURLPathDepth the same way a fetched page does.
func PathDepth(rawURL string) int {
	path := extractPath(rawURL)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	n := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			n++
		}
	}
	return n
}

// encodeContent follows the explicit divisors: log text length/6,
// form-field count/30. Heading/paragraph/
// image/table/list counts use fixed normalisation caps chosen to keep
// typical pages well inside [0,1] without flattening high-content outliers.
func encodeContent(sd *extraction.StructuredData, f *[sitemap.FeatureDim]float32) {
	f[sitemap.FeatTextDensity] = clamp01(float32(sd.TextDensity))
	f[sitemap.FeatTextLengthLog] = clamp01(float32(math.Log(float64(sd.TextLength)+1)) / 6.0)

	f[sitemap.FeatHeadingCount] = clamp01(float32(len(sd.Headings)) / 10.0)
	f[sitemap.FeatParagraphCount] = clamp01(float32(paragraphCount(sd)) / 20.0)
	f[sitemap.FeatImageCount] = clamp01(float32(len(sd.Images)) / 20.0)
	f[sitemap.FeatTableCount] = clamp01(float32(len(sd.Tables)) / 5.0)
	f[sitemap.FeatListCount] = 0 // list extraction not tracked separately from tables/paragraphs

	f[sitemap.FeatFormFieldCount] = clamp01(float32(formFieldCount(sd)) / 30.0)
	f[sitemap.FeatVideoPresent] = boolF(sd.VideoCount > 0)
	f[sitemap.FeatStructuredDataRichness] = clamp01(float32(len(sd.JSONLD)+len(sd.Microdata)) / 50.0)
	// Ad density, uniqueness, reading level and sentiment need a lexical
	// model this daemon doesn't carry; they stay at their documented
	// default of 0.0 until a content-scoring pass is added.
}

func paragraphCount(sd *extraction.StructuredData) int {
	// Approximated by text density and length: a page with no headings or
	// tables but non-trivial text still has paragraph structure.
	if sd.TextLength == 0 {
		return 0
	}
	return len(sd.Headings) + sd.TextLength/400
}

func formFieldCount(sd *extraction.StructuredData) int {
	n := 0
	for _, form := range sd.Forms {
		n += len(form.Fields)
	}
	return n
}

// encodeCommerce extracts price/rating/availability from JSON-LD offers
// (schema.org Product/Offer). Price (dim 48) stores the raw numeric value,
// not a normalised fraction.
func encodeCommerce(sd *extraction.StructuredData, f *[sitemap.FeatureDim]float32) {
	for _, obj := range sd.JSONLD {
		offers := findOffers(obj)
		if offers == nil {
			continue
		}
		if price, ok := numericField(offers, "price"); ok {
			f[sitemap.FeatPrice] = price
		}
		if priceSpec, ok := offers["priceSpecification"].(map[string]any); ok {
			if orig, ok := numericField(priceSpec, "price"); ok {
				f[sitemap.FeatPriceOriginal] = orig
			}
		}
		avail, _ := offers["availability"].(string)
		switch {
		case strings.Contains(avail, "InStock"):
			f[sitemap.FeatAvailability] = 1.0
		case strings.Contains(avail, "OutOfStock"):
			f[sitemap.FeatAvailability] = 0.0
		case avail != "":
			f[sitemap.FeatAvailability] = 0.5
		}
		if rating, ok := findAggregateRating(obj); ok {
			if v, ok := numericField(rating, "ratingValue"); ok {
				f[sitemap.FeatRating] = clamp01(v / 5.0)
			}
			if count, ok := numericField(rating, "reviewCount"); ok {
				f[sitemap.FeatReviewCountLog] = clamp01(float32(math.Log(float64(count)+1)) / 6.0)
			}
		}
	}

	if f[sitemap.FeatPrice] > 0 && f[sitemap.FeatPriceOriginal] > f[sitemap.FeatPrice] {
		f[sitemap.FeatDiscountPct] = clamp01(1.0 - f[sitemap.FeatPrice]/f[sitemap.FeatPriceOriginal])
	}
	// Price percentile (dim 62) needs the category distribution; left at
	// 0.0.
}

func findOffers(obj map[string]any) map[string]any {
	if offers, ok := obj["offers"].(map[string]any); ok {
		return offers
	}
	return nil
}

func findAggregateRating(obj map[string]any) (map[string]any, bool) {
	if r, ok := obj["aggregateRating"].(map[string]any); ok {
		return r, true
	}
	return nil, false
}

func numericField(m map[string]any, key string) (float32, bool) {
	switch v := m[key].(type) {
	case float64:
		return float32(v), true
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return float32(n), true
		}
	}
	return 0, false
}

func encodeNavigation(sd *extraction.StructuredData, f *[sitemap.FeatureDim]float32) {
	internal, external, pagination, breadcrumb := 0, 0, 0, 0
	for _, l := range sd.Links {
		switch l.Type {
		case extraction.LinkInternal:
			internal++
		case extraction.LinkExternal:
			external++
		case extraction.LinkPagination:
			pagination++
		case extraction.LinkBreadcrumb:
			breadcrumb++
		}
	}
	f[sitemap.FeatLinkCountInternal] = clamp01(float32(internal) / 100.0)
	f[sitemap.FeatLinkCountExternal] = clamp01(float32(external) / 50.0)
	f[sitemap.FeatOutboundLinks] = clamp01(float32(internal+external) / 100.0)
	f[sitemap.FeatPaginationPresent] = boolF(pagination > 0)
	f[sitemap.FeatBreadcrumbDepth] = clamp01(float32(breadcrumb) / 5.0)
	f[sitemap.FeatSearchAvailable] = boolF(sd.HasSearchForm)
	f[sitemap.FeatIsDeadEnd] = boolF(f[sitemap.FeatOutboundLinks] < 0.01)
}

func encodeTrust(sd *extraction.StructuredData, nav NavInfo, f *[sitemap.FeatureDim]float32) {
	f[sitemap.FeatTLSValid] = boolF(strings.HasPrefix(nav.URL, "https://"))
	f[sitemap.FeatContentFreshness] = 1.0 // just mapped
	f[sitemap.FeatHTTPStatusOK] = boolF(nav.HTTPStatus >= 200 && nav.HTTPStatus < 300)
	f[sitemap.FeatRobotsAllowed] = boolF(nav.RobotsAllowed)
}

// encodeActions fills the has-form and search-action dimensions from the
// page's own forms; the action-count and risk-ratio dimensions are filled
// once actions.go has assigned real opcodes and risks, via
// RecomputeActionStats.
func encodeActions(sd *extraction.StructuredData, f *[sitemap.FeatureDim]float32) {
	f[sitemap.FeatHasForm] = boolF(len(sd.Forms) > 0)
	f[sitemap.FeatHasSearchAction] = boolF(sd.HasSearchForm)
}

// RecomputeActionStats fills the action-count and risk-ratio dimensions once
// the full action list for a node is known.
func RecomputeActionStats(actions []sitemap.Action, f *[sitemap.FeatureDim]float32) {
	total := float32(len(actions))
	f[sitemap.FeatActionCount] = clamp01(total / 20.0)
	if total == 0 {
		return
	}
	var safe, cautious, destructive, cta float32
	for _, a := range actions {
		switch a.Risk {
		case sitemap.RiskSafe:
			safe++
		case sitemap.RiskCautious:
			cautious++
		case sitemap.RiskDestructive:
			destructive++
		}
		cat := a.Opcode.Category()
		if cat == sitemap.CategoryCommerce || cat == sitemap.CategoryAuth {
			cta = 1
		}
	}
	f[sitemap.FeatSafeActionRatio] = safe / total
	f[sitemap.FeatCautiousActionRatio] = cautious / total
	f[sitemap.FeatDestructiveActionRatio] = destructive / total
	f[sitemap.FeatPrimaryCTAPresent] = cta
}

func boolF(b bool) float32 {
	if b {
		return 1.0
	}
	return 0.0
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
