package sitemap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexmap/cortex/internal/cortexerr"
)

func TestCanonicalizeURLNormalizes(t *testing.T) {
	got, err := CanonicalizeURL("HTTP://Example.com:80/a//b#frag")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/a/b", got)
}

func TestBuilderRejectsDuplicateURL(t *testing.T) {
	b := NewBuilder("example.com")
	var f [FeatureDim]float32
	_, err := b.AddNode("https://example.com/", PageHome, f, 1)
	require.NoError(t, err)

	_, err = b.AddNode("https://example.com/", PageHome, f, 1)
	require.Error(t, err)
	require.True(t, cortexerr.As(err, cortexerr.EInvalidParams))
}

func TestBuilderBuildRejectsEmptyMap(t *testing.T) {
	b := NewBuilder("example.com")
	_, err := b.Build()
	require.Error(t, err)
	require.True(t, cortexerr.As(err, cortexerr.EMapNoContent))
}

func TestAddEdgeRejectsOutOfRangeEndpoints(t *testing.T) {
	b := NewBuilder("example.com")
	var f [FeatureDim]float32
	_, err := b.AddNode("https://example.com/", PageHome, f, 1)
	require.NoError(t, err)

	err = b.AddEdge(0, 5, EdgeNavigation, 1, 0)
	require.Error(t, err)
	require.True(t, cortexerr.As(err, cortexerr.EInvalidParams))
}

// TestBuildCSRBounds exercises the invariant that every node's
// EdgeIndex[i]..EdgeIndex[i+1] range is monotonic, in-bounds, and that the
// last entry equals the total edge count — the CSR contract every query
// walks without further validation.
func TestBuildCSRBounds(t *testing.T) {
	b := NewBuilder("example.com")
	var f [FeatureDim]float32
	root, err := b.AddNode("https://example.com/", PageHome, f, 1)
	require.NoError(t, err)
	a, err := b.AddNode("https://example.com/a", PageArticle, f, 1)
	require.NoError(t, err)
	c, err := b.AddNode("https://example.com/b", PageArticle, f, 1)
	require.NoError(t, err)

	require.NoError(t, b.AddEdge(root, a, EdgeContentLink, 1, 0))
	require.NoError(t, b.AddEdge(a, c, EdgeContentLink, 1, 0))

	m, err := b.Build()
	require.NoError(t, err)

	require.Len(t, m.EdgeIndex, m.NodeCount()+1)
	require.Equal(t, uint32(len(m.Edges)), m.EdgeIndex[len(m.EdgeIndex)-1])
	for i := 1; i < len(m.EdgeIndex); i++ {
		require.GreaterOrEqual(t, m.EdgeIndex[i], m.EdgeIndex[i-1])
	}
	for i := 0; i < m.NodeCount(); i++ {
		for _, e := range m.OutboundEdges(uint32(i)) {
			require.Less(t, int(e.TargetNode), m.NodeCount())
		}
	}
}

func TestBuildComputesFeatureNormAndDegrees(t *testing.T) {
	b := NewBuilder("example.com")
	var f [FeatureDim]float32
	f[0] = 3
	f[1] = 4
	root, err := b.AddNode("https://example.com/", PageHome, f, 1)
	require.NoError(t, err)
	leaf, err := b.AddNode("https://example.com/a", PageArticle, [FeatureDim]float32{}, 1)
	require.NoError(t, err)
	require.NoError(t, b.AddEdge(root, leaf, EdgeContentLink, 1, 0))

	m, err := b.Build()
	require.NoError(t, err)

	require.InDelta(t, float32(5), m.Nodes[root].FeatureNorm, 1e-5, "3-4-5 triangle norm")
	require.Equal(t, uint32(1), m.Nodes[leaf].InboundCount)
}

func TestInferURLRelatedEdgesSharedPrefix(t *testing.T) {
	b := NewBuilder("example.com")
	var f [FeatureDim]float32
	_, err := b.AddNode("https://example.com/", PageHome, f, 1)
	require.NoError(t, err)
	p1, err := b.AddNode("https://example.com/products/widgets/1", PageProductDetail, f, 1)
	require.NoError(t, err)
	p2, err := b.AddNode("https://example.com/products/widgets/2", PageProductDetail, f, 1)
	require.NoError(t, err)

	m, err := b.Build()
	require.NoError(t, err)

	found := false
	for _, e := range m.OutboundEdges(p1) {
		if e.TargetNode == p2 && e.Type == EdgeRelated {
			found = true
		}
	}
	require.True(t, found, "nodes sharing a >=2-segment path prefix should get an inferred related edge")
}

// TestBuildSkipsInferredEdgesWhenMostNodesRendered covers the gate: when
// enough of the graph was actually rendered, real extracted links already
// carry the structure and Build should not add URL-derived inference noise.
func TestBuildSkipsInferredEdgesWhenMostNodesRendered(t *testing.T) {
	b := NewBuilder("example.com")
	var f [FeatureDim]float32
	root, err := b.AddNode("https://example.com/", PageHome, f, 1)
	require.NoError(t, err)
	p1, err := b.AddNode("https://example.com/products/widgets/1", PageProductDetail, f, 1)
	require.NoError(t, err)
	p2, err := b.AddNode("https://example.com/products/widgets/2", PageProductDetail, f, 1)
	require.NoError(t, err)
	b.SetNodeFlags(root, NodeRendered)
	b.SetNodeFlags(p1, NodeRendered)
	b.SetNodeFlags(p2, NodeRendered)

	m, err := b.Build()
	require.NoError(t, err)

	require.Empty(t, m.Edges, "a fully-rendered small site should get no inferred edges")
}
