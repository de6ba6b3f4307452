package classify

import "github.com/cortexmap/cortex/internal/sitemap"

// urlDerivedDims are sourced from the URL/HEAD response rather than content
// extraction; interpolation must never overwrite them.
var urlDerivedDims = []int{
	sitemap.FeatDepth,
	sitemap.FeatIsHTTPS,
	sitemap.FeatURLPathDepth,
	sitemap.FeatURLHasQuery,
	sitemap.FeatURLHasFragment,
	sitemap.FeatRedirectCount,
	sitemap.FeatTLSValid,
	sitemap.FeatHTTPStatusOK,
	sitemap.FeatRobotsAllowed,
}

// Interpolate produces a feature row for a node that was never rendered, by
// averaging the feature rows of already-rendered nodes sharing the same
// PageType. urlOnly carries the dimensions the acquisition
// layer already knows from the URL/HEAD response, which take priority over
// the averaged row. Returns (row, estimated) where estimated is true when
// fewer than two samples exist, in which case the row is all zero except
// the URL-derived dimensions.
func Interpolate(samples [][sitemap.FeatureDim]float32, urlOnly [sitemap.FeatureDim]float32) (row [sitemap.FeatureDim]float32, estimated bool) {
	if len(samples) < 2 {
		for _, d := range urlDerivedDims {
			row[d] = urlOnly[d]
		}
		return row, true
	}

	for d := 0; d < sitemap.FeatureDim; d++ {
		var sum float32
		for _, s := range samples {
			sum += s[d]
		}
		row[d] = sum / float32(len(samples))
	}
	for _, d := range urlDerivedDims {
		row[d] = urlOnly[d]
	}
	return row, false
}

// SamplesByPageType groups already-rendered feature rows by PageType, for
// feeding Interpolate.
func SamplesByPageType(nodes []sitemap.Node, features [][sitemap.FeatureDim]float32) map[sitemap.PageType][][sitemap.FeatureDim]float32 {
	out := make(map[sitemap.PageType][][sitemap.FeatureDim]float32)
	for i, n := range nodes {
		if !n.Flags.Has(sitemap.NodeRendered) {
			continue
		}
		out[n.PageType] = append(out[n.PageType], features[i])
	}
	return out
}
