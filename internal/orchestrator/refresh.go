package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexmap/cortex/internal/classify"
	"github.com/cortexmap/cortex/internal/crawler"
	"github.com/cortexmap/cortex/internal/extraction"
	"github.com/cortexmap/cortex/internal/sitemap"
)

// RefreshSelector picks which nodes of a cached SiteMap a Refresh call
// re-fetches. Nodes takes priority over ClusterID, which takes priority
// over FreshnessBelow; a nil/zero field is unset.
type RefreshSelector struct {
	Nodes          []uint32
	ClusterID      *int
	FreshnessBelow float32
}

func (s RefreshSelector) selectNodes(m *sitemap.SiteMap) []uint32 {
	if len(s.Nodes) > 0 {
		return s.Nodes
	}
	if s.ClusterID != nil {
		var out []uint32
		for i, c := range m.ClusterAssignments {
			if int(c) == *s.ClusterID {
				out = append(out, uint32(i))
			}
		}
		return out
	}
	if s.FreshnessBelow > 0 {
		var out []uint32
		for i, n := range m.Nodes {
			if n.Freshness < s.FreshnessBelow {
				out = append(out, uint32(i))
			}
		}
		return out
	}
	return nil
}

// refetchResult is one node's re-fetched, re-extracted, re-classified and
// re-encoded state, ready to be written back into a SiteMap.
type refetchResult struct {
	idx      uint32
	pageType sitemap.PageType
	conf     float32
	features [sitemap.FeatureDim]float32
	status   int
	hash     uint32
}

// Refresh re-fetches the nodes sel picks out of the cached SiteMap for
// key, reruns extraction and the feature encoder for each, and writes the
// new rows back under the entry's write lock. It reports one
// RefreshChange per feature dimension that moved, plus page_type,
// http_status and content_hash when they changed.
func (o *Orchestrator) Refresh(ctx context.Context, key string, sel RefreshSelector) (RefreshResult, error) {
	entry, release, ok := o.cache.Get(key)
	if !ok {
		return RefreshResult{}, fmt.Errorf("orchestrator: no cached map for key %q", key)
	}
	defer release()

	var nodes []uint32
	entry.WithReadLock(func(m *sitemap.SiteMap) {
		nodes = sel.selectNodes(m)
	})

	var results []refetchResult
	entry.WithReadLock(func(m *sitemap.SiteMap) {
		for _, idx := range nodes {
			if int(idx) >= len(m.Nodes) {
				continue
			}
			r, err := refetchNode(ctx, o.httpFetcher, m.Nodes[idx].URL, m.Nodes[idx].Depth)
			if err != nil {
				continue
			}
			r.idx = idx
			results = append(results, r)
		}
	})

	var changes []RefreshChange
	entry.WithWriteLock(func(m *sitemap.SiteMap) {
		for _, r := range results {
			changes = append(changes, applyRefetch(m, r)...)
		}
	})

	return RefreshResult{Changes: changes}, nil
}

func applyRefetch(m *sitemap.SiteMap, r refetchResult) []RefreshChange {
	var changes []RefreshChange
	n := &m.Nodes[r.idx]
	old := m.Features[r.idx]

	if n.PageType != r.pageType {
		changes = append(changes, RefreshChange{Node: r.idx, Field: "page_type", Old: n.PageType.String(), New: r.pageType.String()})
		n.PageType = r.pageType
	}
	if n.HTTPStatus != uint32(r.status) {
		changes = append(changes, RefreshChange{Node: r.idx, Field: "http_status", Old: fmt.Sprintf("%d", n.HTTPStatus), New: fmt.Sprintf("%d", r.status)})
		n.HTTPStatus = uint32(r.status)
	}
	if n.ContentHash != r.hash {
		changes = append(changes, RefreshChange{Node: r.idx, Field: "content_hash", Old: fmt.Sprintf("%d", n.ContentHash), New: fmt.Sprintf("%d", r.hash)})
		n.ContentHash = r.hash
	}
	for d := 0; d < sitemap.FeatureDim; d++ {
		if featureMoved(old[d], r.features[d]) {
			changes = append(changes, RefreshChange{
				Node:  r.idx,
				Field: fmt.Sprintf("features.%d", d),
				Old:   fmt.Sprintf("%g", old[d]),
				New:   fmt.Sprintf("%g", r.features[d]),
			})
		}
	}

	n.Confidence = r.conf
	n.Freshness = 1.0
	n.FeatureNorm = sitemap.ComputeFeatureNorm(r.features)
	m.Features[r.idx] = r.features
	return changes
}

const featureChangeEpsilon = 1e-6

func featureMoved(oldVal, newVal float32) bool {
	d := oldVal - newVal
	if d < 0 {
		d = -d
	}
	return d > featureChangeEpsilon
}

func refetchNode(ctx context.Context, fetcher crawler.Fetcher, rawURL string, depth uint32) (refetchResult, error) {
	var out refetchResult
	start := time.Now()
	resp, err := fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL, Depth: int(depth)})
	if err != nil {
		return out, err
	}
	sd, err := extraction.Extract(resp.Body, rawURL)
	if err != nil {
		return out, err
	}
	pageType, conf := classify.ClassifyPage(sd, rawURL)
	nav := classify.NavInfo{
		URL:           rawURL,
		Depth:         depth,
		LoadTimeMS:    uint64(time.Since(start).Milliseconds()),
		HTTPStatus:    resp.StatusCode,
		RobotsAllowed: true,
	}
	out.pageType = pageType
	out.conf = conf
	out.features = classify.EncodeFeatures(sd, nav, pageType, conf)
	out.status = resp.StatusCode
	out.hash = contentHash(resp.Body)
	return out, nil
}
