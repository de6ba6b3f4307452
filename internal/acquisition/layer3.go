package acquisition

import (
	"context"
	"sync"
	"time"

	"github.com/cortexmap/cortex/internal/classify"
	"github.com/cortexmap/cortex/internal/crawler"
	"github.com/cortexmap/cortex/internal/extraction"
	"github.com/cortexmap/cortex/internal/sitemap"
)

// renderCoverageThreshold is the fraction of the full 128-dim feature
// vector that must already be populated before a page is exempt from the
// render fallback.
const renderCoverageThreshold = 0.20

// navigationTimeout bounds a single headless navigation.
const navigationTimeout = 10 * time.Second

// RenderPool caps how many headless render contexts may be in flight at
// once and how many render attempts remain in the acquisition run's
// max_render budget.
type RenderPool struct {
	fetcher   crawler.Fetcher
	detector  crawler.HeadlessDetector
	sem       chan struct{}
	mu        sync.Mutex
	remaining int
}

// NewRenderPool builds a pool bounded by both a concurrency cap and a
// total-attempts budget; once remaining renders reach zero every
// subsequent candidate is skipped rather than blocked. detector may be
// nil, in which case promotion relies solely on feature coverage.
func NewRenderPool(fetcher crawler.Fetcher, detector crawler.HeadlessDetector, concurrency, maxRender int) *RenderPool {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &RenderPool{
		fetcher:   fetcher,
		detector:  detector,
		sem:       make(chan struct{}, concurrency),
		remaining: maxRender,
	}
}

func (r *RenderPool) take() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remaining <= 0 {
		return false
	}
	r.remaining--
	return true
}

// needsRender decides whether a sampled page should be escalated to a
// headless render: either its extracted feature vector is still too
// sparse, or the configured detector recognizes its raw fetch response as
// needing client-side rendering (SPA shells, suspiciously short bodies).
func needsRender(p *SampledPage, detector crawler.HeadlessDetector) bool {
	if coverageFraction(p.Features) < renderCoverageThreshold {
		return true
	}
	if detector == nil {
		return false
	}
	return detector.ShouldPromote(crawler.FetchResponse{
		StatusCode: p.Nav.HTTPStatus,
		Body:       p.RawHTML,
		Headers:    p.responseHeader,
	})
}

// coverageFraction is the share of the full feature vector already
// populated by earlier layers.
func coverageFraction(f [sitemap.FeatureDim]float32) float64 {
	n := 0
	for i := 0; i < sitemap.FeatureDim; i++ {
		if f[i] != 0 {
			n++
		}
	}
	return float64(n) / float64(sitemap.FeatureDim)
}

// RunLayer3 re-renders every sampled page whose cumulative feature
// coverage is still below renderCoverageThreshold after Layers 0-2.5,
// using a headless browser, as long as the render pool has budget left
// and the acquisition run has not crossed its Layer3Checkpoint. Pages that
// are skipped (pool exhausted, budget crossed, or render failure) are
// returned unchanged.
func RunLayer3(ctx context.Context, pages []SampledPage, pool *RenderPool, budget Budget) []SampledPage {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range pages {
		p := &pages[i]
		if !needsRender(p, pool.detector) {
			continue
		}
		if budget.PastFraction(time.Now(), Layer3Checkpoint) {
			break
		}
		if !pool.take() {
			continue
		}

		select {
		case pool.sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}

		wg.Add(1)
		go func(p *SampledPage) {
			defer wg.Done()
			defer func() { <-pool.sem }()
			renderOne(ctx, pool.fetcher, p, &mu)
		}(p)
	}
	wg.Wait()
	return pages
}

func renderOne(ctx context.Context, fetcher crawler.Fetcher, p *SampledPage, mu *sync.Mutex) {
	renderCtx, cancel := context.WithTimeout(ctx, navigationTimeout)
	defer cancel()

	start := time.Now()
	resp, err := fetcher.Fetch(renderCtx, crawler.FetchRequest{URL: p.URL, Depth: int(p.Depth)})
	if err != nil {
		return
	}

	sd, err := extraction.Extract(resp.Body, p.URL)
	if err != nil {
		return
	}
	pageType, conf := classify.ClassifyPage(sd, p.URL)
	nav := classify.NavInfo{
		URL:           p.URL,
		Depth:         p.Depth,
		LoadTimeMS:    uint64(time.Since(start).Milliseconds()),
		HTTPStatus:    resp.StatusCode,
		RobotsAllowed: true,
	}
	features := classify.EncodeFeatures(sd, nav, pageType, conf)

	mu.Lock()
	p.PageType = pageType
	p.Confidence = conf
	p.Features = features
	p.Data = sd
	p.Nav = nav
	p.Rendered = true
	p.RawHTML = resp.Body
	p.responseHeader = resp.Headers
	mu.Unlock()
}
