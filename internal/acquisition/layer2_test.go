package acquisition

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexmap/cortex/internal/extraction"
)

func TestDetectPlatformByHeader(t *testing.T) {
	h := http.Header{}
	h.Set("X-ShopId", "123")
	require.Equal(t, PlatformShopify, DetectPlatform(h, nil))
}

func TestDetectPlatformByMarkup(t *testing.T) {
	html := []byte(`<html><head><script src="https://cdn.shopify.com/s/files/theme.js"></script></head></html>`)
	require.Equal(t, PlatformShopify, DetectPlatform(http.Header{}, html))
}

func TestDetectPlatformUnknown(t *testing.T) {
	html := []byte(`<html><body>hand-rolled site</body></html>`)
	require.Equal(t, PlatformUnknown, DetectPlatform(http.Header{}, html))
}

func TestParseShopifyProducts(t *testing.T) {
	body := strings.NewReader(`{"products":[{"title":"Widget","variants":[{"price":"19.99"}]}]}`)
	items, err := parseShopifyProducts(body)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Widget", items[0].title)
	require.InDelta(t, 19.99, items[0].price, 0.001)
}

func TestMergeCatalogAppendsOffers(t *testing.T) {
	sd := &extraction.StructuredData{}
	mergeCatalog(sd, []catalogItem{{title: "Widget", price: 9.99}})
	require.Len(t, sd.JSONLD, 1)
}
