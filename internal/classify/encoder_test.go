package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexmap/cortex/internal/extraction"
	"github.com/cortexmap/cortex/internal/sitemap"
)

func TestEncodeFeaturesIdentityDimensions(t *testing.T) {
	sd := &extraction.StructuredData{}
	nav := NavInfo{URL: "https://example.com/a/b", HTTPStatus: 200, RobotsAllowed: true}
	f := EncodeFeatures(sd, nav, sitemap.PageArticle, 0.75)

	require.InDelta(t, float32(sitemap.PageArticle)/sitemap.MaxPageTypeOrdinal, f[sitemap.FeatPageType], 1e-6)
	require.InDelta(t, float32(0.75), f[sitemap.FeatConfidence], 1e-6)
	require.Equal(t, float32(1.0), f[sitemap.FeatIsHTTPS])
	require.Equal(t, float32(1.0), f[sitemap.FeatHTTPStatusOK])
	require.Equal(t, float32(1.0), f[sitemap.FeatRobotsAllowed])
}

func TestEncodeFeaturesCommercePrice(t *testing.T) {
	sd := &extraction.StructuredData{
		JSONLD: []map[string]any{{
			"offers": map[string]any{
				"price":       "19.99",
				"availability": "https://schema.org/InStock",
			},
		}},
	}
	f := EncodeFeatures(sd, NavInfo{}, sitemap.PageProductDetail, 0.9)
	require.InDelta(t, float32(19.99), f[sitemap.FeatPrice], 1e-4)
	require.Equal(t, float32(1.0), f[sitemap.FeatAvailability])
}

func TestEncodeFeaturesDiscountPct(t *testing.T) {
	sd := &extraction.StructuredData{
		JSONLD: []map[string]any{{
			"offers": map[string]any{
				"price": 80.0,
				"priceSpecification": map[string]any{
					"price": 100.0,
				},
			},
		}},
	}
	f := EncodeFeatures(sd, NavInfo{}, sitemap.PageProductDetail, 0.9)
	require.InDelta(t, float32(0.2), f[sitemap.FeatDiscountPct], 1e-4)
}

func TestEncodeFeaturesFormAndSearchFlags(t *testing.T) {
	sd := &extraction.StructuredData{
		Forms:         []extraction.Form{{}},
		HasSearchForm: true,
	}
	f := EncodeFeatures(sd, NavInfo{}, sitemap.PageSearchResults, 0.8)
	require.Equal(t, float32(1.0), f[sitemap.FeatHasForm])
	require.Equal(t, float32(1.0), f[sitemap.FeatHasSearchAction])
	require.Equal(t, float32(1.0), f[sitemap.FeatSearchAvailable])
}

func TestRecomputeActionStatsRatios(t *testing.T) {
	actions := []sitemap.Action{
		{Risk: sitemap.RiskSafe},
		{Risk: sitemap.RiskCautious},
		{Risk: sitemap.RiskCautious},
		{Risk: sitemap.RiskDestructive, Opcode: sitemap.MakeOpCode(sitemap.CategoryCommerce, 0)},
	}
	var f [sitemap.FeatureDim]float32
	RecomputeActionStats(actions, &f)

	require.InDelta(t, float32(0.25), f[sitemap.FeatSafeActionRatio], 1e-6)
	require.InDelta(t, float32(0.5), f[sitemap.FeatCautiousActionRatio], 1e-6)
	require.InDelta(t, float32(0.25), f[sitemap.FeatDestructiveActionRatio], 1e-6)
	require.Equal(t, float32(1.0), f[sitemap.FeatPrimaryCTAPresent])
}

func TestRecomputeActionStatsZeroActionsLeavesRatiosZero(t *testing.T) {
	var f [sitemap.FeatureDim]float32
	RecomputeActionStats(nil, &f)
	require.Equal(t, float32(0), f[sitemap.FeatActionCount])
	require.Equal(t, float32(0), f[sitemap.FeatSafeActionRatio])
}

func TestClampHelper(t *testing.T) {
	require.Equal(t, float32(0), clamp01(-5))
	require.Equal(t, float32(1), clamp01(5))
	require.Equal(t, float32(0.5), clamp01(0.5))
}
