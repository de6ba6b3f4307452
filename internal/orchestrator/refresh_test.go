package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexmap/cortex/internal/crawler"
	"github.com/cortexmap/cortex/internal/sitemap"
)

type fakeFetcher struct {
	html       string
	statusCode int
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	status := f.statusCode
	if status == 0 {
		status = 200
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: status, Body: []byte(f.html)}, nil
}

func seedMap(domain string) *sitemap.SiteMap {
	b := sitemap.NewBuilder(domain)
	var features [sitemap.FeatureDim]float32
	idx, err := b.AddNode("https://"+domain+"/", sitemap.PageHome, features, 0.5)
	if err != nil {
		panic(err)
	}
	b.SetNodeMeta(idx, 111, 0, 200)
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

func newTestOrchestrator(fetcher crawler.Fetcher) *Orchestrator {
	return &Orchestrator{
		cache:       New(Options{MaxEntries: 8}),
		httpFetcher: fetcher,
	}
}

func TestRefreshReportsFeatureAndMetaChanges(t *testing.T) {
	o := newTestOrchestrator(&fakeFetcher{
		html:       `<html><body><h1>Welcome home</h1><p>Plenty of fresh copy about the storefront, updated just now.</p></body></html>`,
		statusCode: 200,
	})

	params := MapParams{Domain: "example.com"}
	entry, release, err := o.cache.GetOrBuild(context.Background(), params, false, func(ctx context.Context, p MapParams) (*sitemap.SiteMap, error) {
		return seedMap(p.Domain), nil
	})
	require.NoError(t, err)
	release()

	result, err := o.Refresh(context.Background(), params.CacheKey(), RefreshSelector{Nodes: []uint32{0}})
	require.NoError(t, err)
	require.NotEmpty(t, result.Changes)

	entry.WithReadLock(func(m *sitemap.SiteMap) {
		require.Equal(t, float32(1.0), m.Nodes[0].Freshness)
	})
}

func TestRefreshSelectorByFreshnessThreshold(t *testing.T) {
	m := seedMap("stale.example.com")
	m.Nodes[0].Freshness = 0.1

	sel := RefreshSelector{FreshnessBelow: 0.5}
	nodes := sel.selectNodes(m)
	require.Equal(t, []uint32{0}, nodes)
}

func TestRefreshSelectorByClusterID(t *testing.T) {
	m := seedMap("clustered.example.com")
	m.ClusterAssignments = []uint32{2}

	two, zero := 2, 0
	sel := RefreshSelector{ClusterID: &two}
	nodes := sel.selectNodes(m)
	require.Equal(t, []uint32{0}, nodes)

	sel2 := RefreshSelector{ClusterID: &zero}
	require.Empty(t, sel2.selectNodes(m))
}

func TestRefreshUnknownKeyErrors(t *testing.T) {
	o := newTestOrchestrator(&fakeFetcher{})
	_, err := o.Refresh(context.Background(), "missing.example.com", RefreshSelector{Nodes: []uint32{0}})
	require.Error(t, err)
}
