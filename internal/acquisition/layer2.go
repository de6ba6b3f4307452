package acquisition

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cortexmap/cortex/internal/extraction"
)

// Platform identifies a recognised storefront or page-builder platform by
// its fingerprint in markup, response headers or linked assets.
type Platform string

const (
	PlatformUnknown     Platform = ""
	PlatformShopify     Platform = "shopify"
	PlatformWooCommerce Platform = "woocommerce"
	PlatformMagento     Platform = "magento"
	PlatformBigCommerce Platform = "bigcommerce"
	PlatformWix         Platform = "wix"
	PlatformSquarespace Platform = "squarespace"
)

// fingerprint is one signal that, if present, identifies a platform.
// header matches when the named HTTP response header is present with a
// non-empty value; markup matches against a substring anywhere in the raw
// HTML.
type fingerprint struct {
	platform       Platform
	header         string
	markupContains []string
}

var fingerprints = []fingerprint{
	{platform: PlatformShopify, header: "X-ShopId"},
	{platform: PlatformShopify, markupContains: []string{"cdn.shopify.com", "Shopify.theme"}},
	{platform: PlatformWooCommerce, markupContains: []string{"woocommerce", "wp-content/plugins/woocommerce"}},
	{platform: PlatformMagento, markupContains: []string{"Mage.Cookies", "/static/version", "Magento_"}},
	{platform: PlatformBigCommerce, markupContains: []string{"cdn11.bigcommerce.com", "bigcommerce.com/s-"}},
	{platform: PlatformWix, header: "X-Wix-Request-Id"},
	{platform: PlatformWix, markupContains: []string{"static.wixstatic.com", "wix-bolt"}},
	{platform: PlatformSquarespace, markupContains: []string{"squarespace.com", "static1.squarespace.com"}},
}

// DetectPlatform inspects response headers and raw HTML for a known
// platform's fingerprint. The first matching rule wins; an empty result
// means no known platform was recognised.
func DetectPlatform(header http.Header, html []byte) Platform {
	for _, fp := range fingerprints {
		if fp.header != "" {
			if v := header.Get(fp.header); v != "" {
				return fp.platform
			}
			continue
		}
		for _, needle := range fp.markupContains {
			if strings.Contains(string(html), needle) {
				return fp.platform
			}
		}
	}
	return PlatformUnknown
}

// catalogEndpoint is one well-known platform API path probed for product
// catalog data once a platform has been fingerprinted.
type catalogEndpoint struct {
	platform Platform
	path     string
}

var catalogEndpoints = []catalogEndpoint{
	{PlatformShopify, "/products.json"},
	{PlatformWooCommerce, "/wp-json/wc/store/v1/products"},
	{PlatformBigCommerce, "/products.json"},
}

// RunLayer2 fingerprints each sampled page's platform and, for platforms
// with a known catalog endpoint, probes it once per host and merges the
// parsed JSON catalog into the structured data of the first fingerprinted
// page on that host as synthetic JSON-LD Product offers, so the existing
// commerce feature encoder picks them up without a parallel code path.
// Other pages on the same host do not receive the catalog.
func RunLayer2(ctx context.Context, client *http.Client, pages []SampledPage, politeness *Politeness, userAgent string) []SampledPage {
	probedHosts := make(map[string]bool)

	for i := range pages {
		p := &pages[i]
		u, err := url.Parse(p.URL)
		if err != nil {
			continue
		}
		platform := DetectPlatform(p.responseHeader, p.RawHTML)
		if platform == PlatformUnknown {
			continue
		}
		p.Platform = platform

		host := u.Host
		if probedHosts[host] {
			continue
		}
		probedHosts[host] = true

		items, err := probeCatalog(ctx, client, politeness, u, platform, userAgent)
		if err != nil || len(items) == 0 {
			continue
		}
		mergeCatalog(p.Data, items)
	}
	return pages
}

// catalogItem is a platform-neutral shape pulled out of a catalog JSON
// response, enough to synthesize offers for the feature encoder.
type catalogItem struct {
	title string
	price float64
}

func probeCatalog(ctx context.Context, client *http.Client, politeness *Politeness, root *url.URL, platform Platform, userAgent string) ([]catalogItem, error) {
	var endpoint string
	for _, e := range catalogEndpoints {
		if e.platform == platform {
			endpoint = e.path
			break
		}
	}
	if endpoint == "" {
		return nil, nil
	}

	probeURL := *root
	probeURL.Path = endpoint
	probeURL.RawQuery = ""
	probeURL.Fragment = ""

	release, err := politeness.Acquire(ctx, root.Host)
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		backoff, _ := politeness.RecordOutcome(root.Host, 0)
		Sleep(ctx, backoff)
		return nil, err
	}
	defer resp.Body.Close()
	backoff, _ := politeness.RecordOutcome(root.Host, resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		Sleep(ctx, backoff)
		return nil, fmt.Errorf("catalog probe %s: status %d", probeURL.String(), resp.StatusCode)
	}

	switch platform {
	case PlatformShopify, PlatformBigCommerce:
		return parseShopifyProducts(resp.Body)
	case PlatformWooCommerce:
		return parseWooCommerceProducts(resp.Body)
	default:
		return nil, nil
	}
}

func parseShopifyProducts(body io.Reader) ([]catalogItem, error) {
	var payload struct {
		Products []struct {
			Title    string `json:"title"`
			Variants []struct {
				Price string `json:"price"`
			} `json:"variants"`
		} `json:"products"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, err
	}
	out := make([]catalogItem, 0, len(payload.Products))
	for _, pr := range payload.Products {
		price := 0.0
		if len(pr.Variants) > 0 {
			price, _ = strconv.ParseFloat(pr.Variants[0].Price, 64)
		}
		out = append(out, catalogItem{title: pr.Title, price: price})
	}
	return out, nil
}

func parseWooCommerceProducts(body io.Reader) ([]catalogItem, error) {
	var payload []struct {
		Name   string `json:"name"`
		Prices struct {
			Price string `json:"price"`
		} `json:"prices"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, err
	}
	out := make([]catalogItem, 0, len(payload))
	for _, pr := range payload {
		price, _ := strconv.ParseFloat(pr.Prices.Price, 64)
		out = append(out, catalogItem{title: pr.Name, price: price / 100})
	}
	return out, nil
}

// mergeCatalog appends one synthetic Product offer per catalog item into
// the page's JSON-LD set, reusing encodeCommerce's existing offers/
// aggregateRating extraction instead of adding a parallel commerce path.
func mergeCatalog(sd *extraction.StructuredData, items []catalogItem) {
	for _, item := range items {
		sd.JSONLD = append(sd.JSONLD, map[string]any{
			"@type": "Product",
			"name":  item.title,
			"offers": map[string]any{
				"price": item.price,
			},
		})
	}
}
