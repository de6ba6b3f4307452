package sitemap

import (
	"net/url"
	"strings"

	"github.com/cortexmap/cortex/internal/cortexerr"
)

// CanonicalizeURL standardizes a URL so the Builder can detect duplicates:
// strips the fragment, lowercases the host, removes default ports, and
// collapses duplicate slashes in the path.
func CanonicalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	for strings.Contains(u.Path, "//") {
		u.Path = strings.ReplaceAll(u.Path, "//", "/")
	}
	return u.String(), nil
}

// pendingEdge and pendingAction defer CSR assembly until Build: edges and
// actions are validated against existing node indices as they're added,
// but the final CSR layout needs every edge grouped by source node, which
// is only possible once no more nodes are being appended.
type pendingEdge struct {
	from  uint32
	edge  Edge
}

type pendingAction struct {
	from   uint32
	action Action
}

// Builder accepts nodes, edges and actions incrementally and assigns
// stable indices in insertion order. The zero value is not
// usable; construct with NewBuilder.
type Builder struct {
	domain string

	nodes     []Node
	features  [][FeatureDim]float32
	urlIndex  map[string]uint32

	edges   []pendingEdge
	actions []pendingAction

	rootAdded bool
}

func NewBuilder(domain string) *Builder {
	return &Builder{
		domain:   domain,
		urlIndex: make(map[string]uint32),
	}
}

// AddNode registers a node. The first call becomes the root (index 0,
// depth 0); every subsequent node must specify its depth via SetNodeDepth
// after insertion, or inherit the default of 0. Canonicalised duplicate
// URLs are rejected.
func (b *Builder) AddNode(rawURL string, pageType PageType, features [FeatureDim]float32, confidence float32) (uint32, error) {
	canon, err := CanonicalizeURL(rawURL)
	if err != nil {
		return 0, cortexerr.Wrap(cortexerr.EInvalidParams, "invalid url", err)
	}
	if _, exists := b.urlIndex[canon]; exists {
		return 0, cortexerr.New(cortexerr.EInvalidParams, "duplicate url: "+canon)
	}

	idx := uint32(len(b.nodes))
	n := Node{
		URL:        canon,
		PageType:   pageType,
		Confidence: confidence,
	}
	if !b.rootAdded {
		n.Depth = 0
		b.rootAdded = true
	}
	b.nodes = append(b.nodes, n)
	b.features = append(b.features, features)
	b.urlIndex[canon] = idx
	return idx, nil
}

// SetNodeDepth records a node's hop distance from the root.
func (b *Builder) SetNodeDepth(idx uint32, depth uint32) {
	if int(idx) < len(b.nodes) {
		b.nodes[idx].Depth = depth
	}
}

// SetNodeFlags ORs additional flags onto a node (used when later layers
// discover facts about an already-added node, e.g. a render pass sets
// NodeRendered).
func (b *Builder) SetNodeFlags(idx uint32, flags NodeFlags) {
	if int(idx) < len(b.nodes) {
		b.nodes[idx].Flags |= flags
	}
}

func (b *Builder) SetNodeMeta(idx uint32, contentHash uint32, renderedAt uint32, httpStatus uint32) {
	if int(idx) >= len(b.nodes) {
		return
	}
	b.nodes[idx].ContentHash = contentHash
	b.nodes[idx].RenderedAt = renderedAt
	b.nodes[idx].HTTPStatus = httpStatus
}

// IndexOf returns the node index for a (canonicalised) URL, if present.
func (b *Builder) IndexOf(rawURL string) (uint32, bool) {
	canon, err := CanonicalizeURL(rawURL)
	if err != nil {
		return 0, false
	}
	idx, ok := b.urlIndex[canon]
	return idx, ok
}

// AddEdge queues a directed edge. Bidirectional navigation/content edges
// must be added as two explicit calls by the caller; this
// method only validates and stores one direction.
func (b *Builder) AddEdge(from, to uint32, edgeType EdgeType, weight uint8, flags EdgeFlags) error {
	if int(from) >= len(b.nodes) || int(to) >= len(b.nodes) {
		return cortexerr.New(cortexerr.EInvalidParams, "edge endpoint out of range")
	}
	b.edges = append(b.edges, pendingEdge{from: from, edge: Edge{TargetNode: to, Type: edgeType, Weight: weight, Flags: flags}})
	return nil
}

// AddBidirectionalEdge adds A->B and B->A in one call: navigation and
// content edges are bidirectional so pathfinding works regardless of
// which direction the link was discovered in.
func (b *Builder) AddBidirectionalEdge(a, c uint32, edgeType EdgeType, weight uint8, flags EdgeFlags) error {
	if err := b.AddEdge(a, c, edgeType, weight, flags); err != nil {
		return err
	}
	return b.AddEdge(c, a, edgeType, weight, flags)
}

// AddAction queues a CSR-stored action on the given source node.
func (b *Builder) AddAction(from uint32, opcode OpCode, targetNode uint32, costHint uint8, risk ActionRisk) error {
	if int(from) >= len(b.nodes) {
		return cortexerr.New(cortexerr.EInvalidParams, "action source out of range")
	}
	if targetNode != NodeSentinel && int(targetNode) >= len(b.nodes) {
		return cortexerr.New(cortexerr.EInvalidParams, "action target out of range")
	}
	b.actions = append(b.actions, pendingAction{from: from, action: Action{Opcode: opcode, TargetNode: targetNode, CostHint: costHint, Risk: risk}})
	return nil
}

// NodeCount reports the number of nodes added so far.
func (b *Builder) NodeCount() int { return len(b.nodes) }

// inferredEdgeRenderRatio is the rendered/total node fraction below which
// the Builder adds URL-derived inferred edges: when most nodes were
// actually rendered, their real extracted links already give the graph
// enough structure and inference would just add noise.
const inferredEdgeRenderRatio = 0.5

// needsInferredEdges reports whether too few of the discovered nodes were
// rendered for real links to carry the graph's structure on their own.
func (b *Builder) needsInferredEdges() bool {
	if len(b.nodes) == 0 {
		return false
	}
	rendered := 0
	for _, n := range b.nodes {
		if n.Flags.Has(NodeRendered) {
			rendered++
		}
	}
	return float64(rendered)/float64(len(b.nodes)) < inferredEdgeRenderRatio
}

// inferURLRelatedEdges implements the URL-derived edge
// inference: every non-root node gets a low-weight navigation edge back to
// root, and nodes whose paths share a >=2-segment non-root prefix get a
// bidirectional related edge, both flagged EdgeInferred.
func (b *Builder) inferURLRelatedEdges() {
	n := len(b.nodes)
	if n == 0 {
		return
	}
	for i := 1; i < n; i++ {
		_ = b.AddEdge(uint32(i), 0, EdgeNavigation, 1, EdgeInferred)
	}

	prefixes := make([]([]string), n)
	for i, node := range b.nodes {
		prefixes[i] = pathSegments(node.URL)
	}
	seen := make(map[[2]uint32]bool)
	for i := 1; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sharedPrefixLen(prefixes[i], prefixes[j]) < 2 {
				continue
			}
			key := [2]uint32{uint32(i), uint32(j)}
			if seen[key] {
				continue
			}
			seen[key] = true
			_ = b.AddEdge(uint32(i), uint32(j), EdgeRelated, 2, EdgeInferred)
			_ = b.AddEdge(uint32(j), uint32(i), EdgeRelated, 2, EdgeInferred)
		}
	}
}

// setFlagDims mirrors a node's flags (only known once the graph is
// assembled, after encoding ran) into the trust-group feature dimensions
// that describe the same facts, so Filter/Nearest queries over those
// dimensions don't need a separate flag lookup.
func setFlagDims(f *[FeatureDim]float32, flags NodeFlags) {
	f[FeatBlockedFlag] = boolFeature(flags.Has(NodeBlocked))
	f[FeatAuthRequired] = boolFeature(flags.Has(NodeAuthRequired))
	f[FeatEstimatedFlag] = boolFeature(flags.Has(NodeEstimated))
	f[FeatStaleFlag] = boolFeature(flags.Has(NodeStale))
}

func boolFeature(b bool) float32 {
	if b {
		return 1.0
	}
	return 0.0
}

func pathSegments(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var segs []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func sharedPrefixLen(a, b []string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	count := 0
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			break
		}
		count++
	}
	return count
}

// Build finalises the SiteMap: computes CSR arrays, inbound counts,
// feature_norm, runs k-means clustering, and, when fewer than half of the
// nodes are rendered (needsInferredEdges), adds URL-derived inferred edges.
func (b *Builder) Build() (*SiteMap, error) {
	if len(b.nodes) == 0 {
		return nil, cortexerr.New(cortexerr.EMapNoContent, "no nodes added")
	}

	if b.needsInferredEdges() {
		b.inferURLRelatedEdges()
	}

	n := uint32(len(b.nodes))
	edgesBySource := make([][]Edge, n)
	for _, pe := range b.edges {
		edgesBySource[pe.from] = append(edgesBySource[pe.from], pe.edge)
	}
	edgeIndex := make([]uint32, n+1)
	var edges []Edge
	for i := uint32(0); i < n; i++ {
		edgeIndex[i] = uint32(len(edges))
		edges = append(edges, edgesBySource[i]...)
	}
	edgeIndex[n] = uint32(len(edges))

	inbound := make([]uint32, n)
	for _, e := range edges {
		inbound[e.TargetNode]++
	}

	actionsBySource := make([][]Action, n)
	for _, pa := range b.actions {
		actionsBySource[pa.from] = append(actionsBySource[pa.from], pa.action)
	}
	actionIndex := make([]uint32, n+1)
	var actions []Action
	for i := uint32(0); i < n; i++ {
		actionIndex[i] = uint32(len(actions))
		actions = append(actions, actionsBySource[i]...)
	}
	actionIndex[n] = uint32(len(actions))

	norms := make([]float32, n)
	dominantTypes := make([]PageType, n)
	for i := range b.nodes {
		setFlagDims(&b.features[i], b.nodes[i].Flags)
		norm := ComputeFeatureNorm(b.features[i])
		b.nodes[i].FeatureNorm = norm
		b.nodes[i].OutboundCount = edgeIndex[i+1] - edgeIndex[i]
		b.nodes[i].InboundCount = inbound[i]
		norms[i] = norm
		dominantTypes[i] = b.nodes[i].PageType
	}

	assignments, clusters := runKMeans(b.features, norms, dominantTypes, b.domain)

	return &SiteMap{
		Domain:             b.domain,
		Nodes:              b.nodes,
		Edges:              edges,
		EdgeIndex:          edgeIndex,
		Actions:            actions,
		ActionIndex:        actionIndex,
		Features:           b.features,
		ClusterAssignments: assignments,
		Clusters:           clusters,
	}, nil
}
