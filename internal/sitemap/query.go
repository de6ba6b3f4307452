package sitemap

import (
	"container/heap"
	"math"
	"sort"

	"github.com/cortexmap/cortex/internal/cortexerr"
)

// FeatureRange constrains a single feature dimension; either bound may be
// absent.
type FeatureRange struct {
	Min    *float32
	Max    *float32
}

// FilterQuery is the predicate set for Filter.
type FilterQuery struct {
	PageTypes    []PageType
	FeatureRange map[int]FeatureRange
	RequireFlags NodeFlags
	SortBy       string // feature dimension as decimal string, or "confidence"
	Descending   bool
	Limit        int
}

// FilterResult is one row returned by Filter.
type FilterResult struct {
	Index      uint32
	URL        string
	PageType   PageType
	Confidence float32
	Features   [FeatureDim]float32
}

// Filter performs a single linear scan over the feature matrix, evaluating
// predicates in order of selectivity — flags first, then page_type, then
// feature ranges — for early-out.
func (m *SiteMap) Filter(q FilterQuery) (results []FilterResult, totalMatches int) {
	pageTypeSet := make(map[PageType]bool, len(q.PageTypes))
	for _, pt := range q.PageTypes {
		pageTypeSet[pt] = true
	}

	matched := make([]FilterResult, 0)
	for i, n := range m.Nodes {
		if q.RequireFlags != 0 && n.Flags&q.RequireFlags != q.RequireFlags {
			continue
		}
		if len(pageTypeSet) > 0 && !pageTypeSet[n.PageType] {
			continue
		}
		if !matchesFeatureRange(m.Features[i], q.FeatureRange) {
			continue
		}
		matched = append(matched, FilterResult{
			Index:      uint32(i),
			URL:        n.URL,
			PageType:   n.PageType,
			Confidence: n.Confidence,
			Features:   m.Features[i],
		})
	}

	totalMatches = len(matched)
	sortFilterResults(matched, q.SortBy, q.Descending)

	limit := q.Limit
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	return matched[:limit], totalMatches
}

func matchesFeatureRange(features [FeatureDim]float32, ranges map[int]FeatureRange) bool {
	for dim, r := range ranges {
		if dim < 0 || dim >= FeatureDim {
			continue
		}
		v := features[dim]
		if r.Min != nil && v < *r.Min {
			return false
		}
		if r.Max != nil && v > *r.Max {
			return false
		}
	}
	return true
}

func sortFilterResults(results []FilterResult, sortBy string, descending bool) {
	if sortBy == "" {
		return
	}
	var key func(FilterResult) float32
	if sortBy == "confidence" {
		key = func(r FilterResult) float32 { return r.Confidence }
	} else {
		dim := parseFeatureDim(sortBy)
		if dim < 0 {
			return
		}
		key = func(r FilterResult) float32 { return r.Features[dim] }
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := key(results[i]), key(results[j])
		if descending {
			return a > b
		}
		return a < b
	})
}

func parseFeatureDim(s string) int {
	n := 0
	if s == "" {
		return -1
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	if n >= FeatureDim {
		return -1
	}
	return n
}

// NearestResult is one row returned by Nearest.
type NearestResult struct {
	Index      uint32
	URL        string
	Similarity float32
}

// Nearest returns the top-k nodes by cosine similarity to query vector q,
// using each node's precomputed feature_norm. Ties are broken by lower
// node index. For k >= node_count, all nodes are returned, sorted.
func (m *SiteMap) Nearest(q [FeatureDim]float32, k int) []NearestResult {
	qNorm := ComputeFeatureNorm(q)
	results := make([]NearestResult, 0, len(m.Nodes))
	for i, n := range m.Nodes {
		sim := cosineSimilarity(q, qNorm, m.Features[i], n.FeatureNorm)
		results = append(results, NearestResult{Index: uint32(i), URL: n.URL, Similarity: sim})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Index < results[j].Index
	})
	if k < 0 || k > len(results) {
		k = len(results)
	}
	return results[:k]
}

func cosineSimilarity(q [FeatureDim]float32, qNorm float32, row [FeatureDim]float32, rowNorm float32) float32 {
	if qNorm == 0 || rowNorm == 0 {
		return 0
	}
	var dot float64
	for d := 0; d < FeatureDim; d++ {
		dot += float64(q[d]) * float64(row[d])
	}
	return float32(dot / (float64(qNorm) * float64(rowNorm)))
}

// MinimizeMetric selects the edge cost function used by Pathfind.
type MinimizeMetric string

const (
	MinimizeHops         MinimizeMetric = "hops"
	MinimizeWeight       MinimizeMetric = "weight"
	MinimizeStateChanges MinimizeMetric = "state_changes"
)

// Path is the result of a successful Pathfind.
type Path struct {
	Nodes           []uint32
	TotalCost       float64
	Hops            int
	RequiredActions []Action
}

// Pathfind runs Dijkstra over the CSR graph with non-negative edge costs
// determined by minimize.
// Returns (nil, nil) when no path exists — not-found is a result, not an
// error. avoidFlags skips any node whose flags intersect it.
func (m *SiteMap) Pathfind(from, to uint32, avoidFlags NodeFlags, minimize MinimizeMetric) (*Path, error) {
	n := uint32(len(m.Nodes))
	if from >= n || to >= n {
		return nil, cortexerr.New(cortexerr.EPathfindInvalid, "from/to node index out of range")
	}
	if minimize == "" {
		minimize = MinimizeHops
	}

	const inf = math.MaxFloat64
	// dist/distTie together implement the "ties broken by
	// weight" for state_changes: primary is the named metric, secondary
	// is the edge-weight sum, compared lexicographically. For hops/weight
	// minimize, secondary stays 0 and never influences path choice.
	dist := make([]float64, n)
	distTie := make([]float64, n)
	prev := make([]int64, n)
	prevEdge := make([]int, n)
	for i := range dist {
		dist[i] = inf
		prev[i] = -1
		prevEdge[i] = -1
	}
	dist[from] = 0

	pq := &pathQueue{{node: from, cost: 0, tie: 0, seq: 0}}
	heap.Init(pq)
	seq := 1
	visited := make([]bool, n)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pathItem)
		u := item.node
		if visited[u] {
			continue
		}
		visited[u] = true
		if u == to {
			break
		}
		for ei, e := range m.OutboundEdges(u) {
			v := e.TargetNode
			if v >= n || visited[v] {
				continue
			}
			if avoidFlags != 0 && m.Nodes[v].Flags&avoidFlags != 0 {
				continue
			}
			cost, tie := edgeCost(e, minimize)
			nd, ndTie := dist[u]+cost, distTie[u]+tie
			if costLess(nd, ndTie, dist[v], distTie[v]) {
				dist[v] = nd
				distTie[v] = ndTie
				prev[v] = int64(u)
				prevEdge[v] = int(m.EdgeIndex[u]) + ei
				heap.Push(pq, pathItem{node: v, cost: nd, tie: ndTie, seq: seq})
				seq++
			}
		}
	}

	if !visited[to] {
		return nil, nil
	}

	var nodes []uint32
	var actions []Action
	cur := to
	for {
		nodes = append([]uint32{cur}, nodes...)
		if cur == from {
			break
		}
		ei := prevEdge[cur]
		if ei >= 0 {
			e := m.Edges[ei]
			if e.Type == EdgeFormSubmit || e.Type == EdgeActionResult {
				if a := m.actionTowards(uint32(prev[cur]), cur); a != nil {
					actions = append(actions, *a)
				}
			}
		}
		cur = uint32(prev[cur])
	}

	return &Path{
		Nodes:           nodes,
		TotalCost:       dist[to],
		Hops:            len(nodes) - 1,
		RequiredActions: actions,
	}, nil
}

func (m *SiteMap) actionTowards(from, to uint32) *Action {
	for _, a := range m.OutboundActions(from) {
		if a.TargetNode == to {
			return &a
		}
	}
	return nil
}

// edgeCost returns (primary, tiebreak) costs for an edge under minimize.
func edgeCost(e Edge, minimize MinimizeMetric) (primary, tiebreak float64) {
	switch minimize {
	case MinimizeWeight:
		return float64(e.Weight), 0
	case MinimizeStateChanges:
		if e.Flags.Has(EdgeChangesState) {
			return 1, float64(e.Weight)
		}
		return 0, float64(e.Weight)
	default: // hops
		return 1, 0
	}
}

func costLess(primaryA, tieA, primaryB, tieB float64) bool {
	if primaryA != primaryB {
		return primaryA < primaryB
	}
	return tieA < tieB
}

type pathItem struct {
	node uint32
	cost float64
	tie  float64
	seq  int // insertion order, for a deterministic tie-break
}

type pathQueue []pathItem

func (q pathQueue) Len() int { return len(q) }
func (q pathQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	if q[i].tie != q[j].tie {
		return q[i].tie < q[j].tie
	}
	if q[i].node != q[j].node {
		return q[i].node < q[j].node
	}
	return q[i].seq < q[j].seq
}
func (q pathQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x any)        { *q = append(*q, x.(pathItem)) }
func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
