package acquisition

import (
	"bytes"
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"github.com/cortexmap/cortex/internal/classify"
	"github.com/cortexmap/cortex/internal/sitemap"
)

// ActionSample is one page's discovered actions, ready for the builder.
type ActionSample struct {
	URL     string
	Actions []classify.DiscoveredAction
}

// Action byte values mirror the unexported action codes in
// internal/classify/actions.go (not reachable from this package), kept in
// sync by value since both sides build the same OpCode via
// sitemap.MakeOpCode(category, action).
const (
	actAddToCart     uint8 = 0
	actKeywordSearch uint8 = 0
	actRefresh       uint8 = 0
)

// endpointPattern matches a GraphQL or REST API path literal inside inline
// or linked JavaScript source.
var endpointPattern = regexp.MustCompile(`["'](/(?:api|graphql|wp-json|cart|checkout)(?:/[A-Za-z0-9_\-{}./]*)?)["']`)

// platformTemplate is one opcode a recognised platform is known to expose
// even when no matching form or link text was found on the sampled pages,
// e.g. Shopify's cart endpoint accepts an add action without a visible
// <form>.
type platformTemplate struct {
	platform Platform
	opcode   sitemap.OpCode
	target   string
	cost     uint8
}

var platformTemplates = []platformTemplate{
	{PlatformShopify, sitemap.MakeOpCode(sitemap.CategoryCommerce, actAddToCart), "/cart/add.js", 1},
	{PlatformShopify, sitemap.MakeOpCode(sitemap.CategorySearch, actKeywordSearch), "/search", 1},
	{PlatformWooCommerce, sitemap.MakeOpCode(sitemap.CategoryCommerce, actAddToCart), "/?wc-ajax=add_to_cart", 1},
	{PlatformMagento, sitemap.MakeOpCode(sitemap.CategoryCommerce, actAddToCart), "/checkout/cart/add", 1},
	{PlatformBigCommerce, sitemap.MakeOpCode(sitemap.CategoryCommerce, actAddToCart), "/cart.php", 1},
}

// RunLayer25 discovers actions for every sampled page: form- and link-text-
// derived actions via the existing encoder-side DiscoverActions, JS-source
// endpoint scanning for GraphQL/REST patterns not tied to any visible form,
// and, when the page's platform was fingerprinted in Layer 2, that
// platform's action templates.
func RunLayer25(pages []SampledPage) []ActionSample {
	out := make([]ActionSample, 0, len(pages))
	for _, p := range pages {
		actions := classify.DiscoverActions(p.Data)
		actions = append(actions, scanJSEndpoints(p.RawHTML)...)
		if p.Platform != PlatformUnknown {
			actions = append(actions, templatesForPlatform(p.Platform)...)
		}
		out = append(out, ActionSample{URL: p.URL, Actions: actions})
	}
	return out
}

// scanJSEndpoints looks for GraphQL/REST-shaped path literals in inline
// <script> bodies. Endpoints found this way have no discoverable opcode
// from their text alone, so they are recorded as safe-risk system actions
// pointed at the literal path.
func scanJSEndpoints(html []byte) []classify.DiscoveredAction {
	if len(html) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []classify.DiscoveredAction
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		src := s.Text()
		if src == "" {
			return
		}
		for _, m := range endpointPattern.FindAllStringSubmatch(src, -1) {
			path := m[1]
			if seen[path] {
				continue
			}
			seen[path] = true
			out = append(out, classify.DiscoveredAction{
				Opcode:    sitemap.MakeOpCode(sitemap.CategorySystem, actRefresh),
				Risk:      sitemap.RiskSafe,
				TargetURL: path,
				CostHint:  1,
			})
		}
	})
	return out
}

func templatesForPlatform(platform Platform) []classify.DiscoveredAction {
	var out []classify.DiscoveredAction
	for _, t := range platformTemplates {
		if t.platform != platform {
			continue
		}
		out = append(out, classify.DiscoveredAction{
			Opcode:    t.opcode,
			Risk:      riskForTemplate(t.opcode),
			TargetURL: t.target,
			CostHint:  t.cost,
		})
	}
	return out
}

func riskForTemplate(op sitemap.OpCode) sitemap.ActionRisk {
	switch op.Category() {
	case sitemap.CategoryCommerce, sitemap.CategoryForm, sitemap.CategoryAuth:
		return sitemap.RiskCautious
	default:
		return sitemap.RiskSafe
	}
}
