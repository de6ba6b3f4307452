package sitemap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildLinearMap(t *testing.T) *SiteMap {
	t.Helper()
	b := NewBuilder("example.com")
	var f [FeatureDim]float32
	root, err := b.AddNode("https://example.com/", PageHome, f, 1)
	require.NoError(t, err)
	mid, err := b.AddNode("https://example.com/mid", PageArticle, f, 1)
	require.NoError(t, err)
	end, err := b.AddNode("https://example.com/end", PageArticle, f, 1)
	require.NoError(t, err)
	blocked, err := b.AddNode("https://example.com/blocked", PageErrorPage, f, 1)
	require.NoError(t, err)

	require.NoError(t, b.AddEdge(root, mid, EdgeContentLink, 3, 0))
	require.NoError(t, b.AddEdge(mid, end, EdgeContentLink, 3, 0))
	require.NoError(t, b.AddEdge(root, blocked, EdgeContentLink, 1, 0))
	require.NoError(t, b.AddEdge(blocked, end, EdgeContentLink, 1, 0))
	b.SetNodeFlags(blocked, NodeBlocked)

	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestPathfindInvalidIndex(t *testing.T) {
	m := buildLinearMap(t)
	_, err := m.Pathfind(0, uint32(m.NodeCount()+5), 0, MinimizeHops)
	require.Error(t, err)
}

func TestPathfindNoPathReturnsNilNil(t *testing.T) {
	b := NewBuilder("example.com")
	var f [FeatureDim]float32
	a, err := b.AddNode("https://example.com/", PageHome, f, 1)
	require.NoError(t, err)
	c, err := b.AddNode("https://example.com/isolated", PageArticle, f, 1)
	require.NoError(t, err)
	m, err := b.Build()
	require.NoError(t, err)

	// Build() only adds an inferred edge from the non-root node back to
	// root, never the reverse, so a->c has no path to find.
	path, err := m.Pathfind(a, c, 0, MinimizeHops)
	require.NoError(t, err)
	require.Nil(t, path)
}

func TestPathfindMinimizeHopsPrefersFewerHops(t *testing.T) {
	m := buildLinearMap(t)
	path, err := m.Pathfind(0, 2, 0, MinimizeHops)
	require.NoError(t, err)
	require.NotNil(t, path)
	require.Equal(t, 2, path.Hops, "root->blocked->end is 2 hops, same as root->mid->end")
}

func TestPathfindMinimizeWeightPrefersCheaperRoute(t *testing.T) {
	m := buildLinearMap(t)
	path, err := m.Pathfind(0, 2, 0, MinimizeWeight)
	require.NoError(t, err)
	require.NotNil(t, path)
	require.Equal(t, []uint32{0, 3, 2}, path.Nodes, "the root->blocked->end route has lower total edge weight")
}

func TestPathfindAvoidsFlaggedNodes(t *testing.T) {
	m := buildLinearMap(t)
	path, err := m.Pathfind(0, 2, NodeBlocked, MinimizeWeight)
	require.NoError(t, err)
	require.NotNil(t, path)
	require.Equal(t, []uint32{0, 1, 2}, path.Nodes, "avoidFlags must route around the blocked node even though it is cheaper")
}

// TestPathfindTieBreakPrefersLowerSummedWeight exercises the
// state_changes metric's secondary key: two routes tie on state-change
// count, so the edge-weight sum decides the winner.
func TestPathfindTieBreakPrefersLowerSummedWeight(t *testing.T) {
	b := NewBuilder("example.com")
	var f [FeatureDim]float32
	root, err := b.AddNode("https://example.com/", PageHome, f, 1)
	require.NoError(t, err)
	cheap, err := b.AddNode("https://example.com/cheap", PageArticle, f, 1)
	require.NoError(t, err)
	expensive, err := b.AddNode("https://example.com/expensive", PageArticle, f, 1)
	require.NoError(t, err)
	dest, err := b.AddNode("https://example.com/dest", PageArticle, f, 1)
	require.NoError(t, err)

	require.NoError(t, b.AddEdge(root, cheap, EdgeContentLink, 1, 0))
	require.NoError(t, b.AddEdge(cheap, dest, EdgeContentLink, 1, 0))
	require.NoError(t, b.AddEdge(root, expensive, EdgeContentLink, 9, 0))
	require.NoError(t, b.AddEdge(expensive, dest, EdgeContentLink, 9, 0))

	m, err := b.Build()
	require.NoError(t, err)

	path, err := m.Pathfind(root, dest, 0, MinimizeStateChanges)
	require.NoError(t, err)
	require.NotNil(t, path)
	require.Equal(t, []uint32{root, cheap, dest}, path.Nodes)
}

func TestFilterOrdersByConfidenceDescending(t *testing.T) {
	b := NewBuilder("example.com")
	var f [FeatureDim]float32
	_, err := b.AddNode("https://example.com/", PageHome, f, 0.2)
	require.NoError(t, err)
	_, err = b.AddNode("https://example.com/a", PageArticle, f, 0.9)
	require.NoError(t, err)
	_, err = b.AddNode("https://example.com/b", PageArticle, f, 0.5)
	require.NoError(t, err)
	m, err := b.Build()
	require.NoError(t, err)

	results, total := m.Filter(FilterQuery{
		PageTypes:  []PageType{PageArticle},
		SortBy:     "confidence",
		Descending: true,
	})
	require.Equal(t, 2, total)
	require.Len(t, results, 2)
	require.InDelta(t, float32(0.9), results[0].Confidence, 1e-6)
	require.InDelta(t, float32(0.5), results[1].Confidence, 1e-6)
}

func TestFilterRequireFlagsAndFeatureRange(t *testing.T) {
	b := NewBuilder("example.com")
	var withForm [FeatureDim]float32
	withForm[FeatFormFieldCount] = 3
	var withoutForm [FeatureDim]float32

	_, err := b.AddNode("https://example.com/", PageHome, withoutForm, 1)
	require.NoError(t, err)
	formIdx, err := b.AddNode("https://example.com/contact", PageContactPage, withForm, 1)
	require.NoError(t, err)
	b.SetNodeFlags(formIdx, NodeHasForm)
	_, err = b.AddNode("https://example.com/about", PageAboutPage, withoutForm, 1)
	require.NoError(t, err)

	m, err := b.Build()
	require.NoError(t, err)

	minVal := float32(1)
	results, total := m.Filter(FilterQuery{
		RequireFlags: NodeHasForm,
		FeatureRange: map[int]FeatureRange{FeatFormFieldCount: {Min: &minVal}},
	})
	require.Equal(t, 1, total)
	require.Equal(t, "https://example.com/contact", results[0].URL)
}

func TestFilterLimitTruncatesButReportsTotal(t *testing.T) {
	b := NewBuilder("example.com")
	var f [FeatureDim]float32
	for i := 0; i < 5; i++ {
		_, err := b.AddNode(urlFor(i), PageArticle, f, float32(i))
		require.NoError(t, err)
	}
	m, err := b.Build()
	require.NoError(t, err)

	results, total := m.Filter(FilterQuery{Limit: 2})
	require.Equal(t, 5, total)
	require.Len(t, results, 2)
}

func urlFor(i int) string {
	return "https://example.com/page" + string(rune('a'+i))
}

func TestNearestRanksByCosineSimilarityAndBreaksTiesByIndex(t *testing.T) {
	b := NewBuilder("example.com")
	var a, c [FeatureDim]float32
	a[0] = 1
	c[0] = 1
	_, err := b.AddNode("https://example.com/a", PageArticle, a, 1)
	require.NoError(t, err)
	_, err = b.AddNode("https://example.com/b", PageArticle, c, 1)
	require.NoError(t, err)
	m, err := b.Build()
	require.NoError(t, err)

	var q [FeatureDim]float32
	q[0] = 1
	results := m.Nearest(q, 2)
	require.Len(t, results, 2)
	require.Equal(t, uint32(0), results[0].Index, "identical similarity ties break toward the lower index")
	require.InDelta(t, float32(1), results[0].Similarity, 1e-5)
}

func TestNearestZeroNormFeaturesYieldZeroSimilarity(t *testing.T) {
	b := NewBuilder("example.com")
	var zero [FeatureDim]float32
	_, err := b.AddNode("https://example.com/", PageHome, zero, 1)
	require.NoError(t, err)
	m, err := b.Build()
	require.NoError(t, err)

	var q [FeatureDim]float32
	q[0] = 1
	results := m.Nearest(q, 1)
	require.Len(t, results, 1)
	require.Equal(t, float32(0), results[0].Similarity)
}
