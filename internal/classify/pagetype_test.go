package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexmap/cortex/internal/extraction"
	"github.com/cortexmap/cortex/internal/sitemap"
)

func TestClassifyFromSchemaWinsOutrightAboveConfidenceThreshold(t *testing.T) {
	sd := &extraction.StructuredData{
		JSONLD: []map[string]any{{"@type": "Product"}},
	}
	pt, conf := ClassifyPage(sd, "https://example.com/random-path")
	require.Equal(t, sitemap.PageProductDetail, pt)
	require.Greater(t, conf, float32(0.8))
}

func TestClassifyFromURLHome(t *testing.T) {
	sd := &extraction.StructuredData{}
	pt, conf := ClassifyPage(sd, "https://example.com/")
	require.Equal(t, sitemap.PageHome, pt)
	require.InDelta(t, float32(0.9), conf, 1e-6)
}

func TestClassifyFromURLProductDetail(t *testing.T) {
	sd := &extraction.StructuredData{}
	pt, _ := ClassifyPage(sd, "https://example.com/product/widget")
	require.Equal(t, sitemap.PageProductDetail, pt)
}

// TestClassifyDOMAndURLAgreementBoostsConfidence covers the rule: when the
// DOM heuristic and URL pattern agree on page type, confidence is boosted
// above either individual signal.
func TestClassifyDOMAndURLAgreementBoostsConfidence(t *testing.T) {
	sd := &extraction.StructuredData{
		Microdata: []map[string]any{{"@type": "Product"}},
	}
	pt, conf := ClassifyPage(sd, "https://example.com/product/widget")
	require.Equal(t, sitemap.PageProductDetail, pt)

	_, urlConf := classifyFromURL("https://example.com/product/widget")
	_, domConf, ok := classifyFromDOM(sd)
	require.True(t, ok)
	require.Greater(t, conf, urlConf)
	require.Greater(t, conf, domConf)
}

// TestClassifyDOMDisagreesWithURLHigherConfidenceWins covers the rule: when
// DOM and URL disagree, the higher-confidence signal wins.
func TestClassifyDOMDisagreesWithURLHigherConfidenceWins(t *testing.T) {
	sd := &extraction.StructuredData{
		Microdata: []map[string]any{{"@type": "Product"}}, // DOM says product, conf 0.85
	}
	pt, conf := ClassifyPage(sd, "https://example.com/about") // URL says about, conf 0.85
	// DOM confidence (0.85) is not strictly greater than URL confidence
	// (0.85), so URL's signal is kept per the ">" comparison.
	require.Equal(t, sitemap.PageAboutPage, pt)
	require.InDelta(t, float32(0.85), conf, 1e-6)
}

func TestClassifyFallsBackToHeadingsWhenURLUnknown(t *testing.T) {
	sd := &extraction.StructuredData{
		Headings: []extraction.Heading{{Level: 1, Text: "Frequently Asked Questions"}},
	}
	pt, conf := ClassifyPage(sd, "https://example.com/xyz123")
	require.Equal(t, sitemap.PageFaq, pt)
	require.InDelta(t, float32(0.55), conf, 1e-6)
}

func TestClassifyUnknownWhenEverythingFallsThrough(t *testing.T) {
	sd := &extraction.StructuredData{}
	pt, conf := ClassifyPage(sd, "https://example.com/xyz123")
	require.Equal(t, sitemap.PageUnknown, pt)
	require.InDelta(t, float32(0.3), conf, 1e-6)
}

func TestClassifyFromDOMLoginRequiresSingleFormWithPassword(t *testing.T) {
	sd := &extraction.StructuredData{
		Forms: []extraction.Form{{
			Fields: []extraction.FormField{{Name: "email", Type: "email"}, {Name: "password", Type: "password"}},
		}},
	}
	pt, conf, ok := classifyFromDOM(sd)
	require.True(t, ok)
	require.Equal(t, sitemap.PageLogin, pt)
	require.InDelta(t, float32(0.85), conf, 1e-6)
}
