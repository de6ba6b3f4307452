package acquisition

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cortexmap/cortex/internal/classify"
	"github.com/cortexmap/cortex/internal/crawler"
	"github.com/cortexmap/cortex/internal/extraction"
	"github.com/cortexmap/cortex/internal/sitemap"
)

// layer1Concurrency bounds simultaneous in-flight structured-data GET
// requests across the whole domain, independent of the per-domain
// politeness concurrency cap.
const layer1Concurrency = 8

// minRepresentativesPerType is how many sampled pages Layer 1 tries to get
// for each PageType it has already predicted from URL patterns alone,
// before spending the rest of its allowance on proportional fill.
const minRepresentativesPerType = 2

// degradedConfidence is the confidence assigned to a placeholder node
// emitted in place of a URL whose fetch failed outright.
const degradedConfidence = 0.3

// SampledPage is one URL that Layer 1 actually fetched and classified.
type SampledPage struct {
	URL        string
	Depth      uint32
	PageType   sitemap.PageType
	Confidence float32
	Features   [sitemap.FeatureDim]float32
	Data       *extraction.StructuredData
	Nav        classify.NavInfo
	Rendered   bool
	Degraded   bool // fetch failed; this row is a placeholder, not real content
	RawHTML    []byte
	Platform   Platform

	// responseHeader carries the fetch's raw HTTP response headers through
	// to Layer 2's platform fingerprinting; it is not part of the public
	// sampling result and is never serialized onward.
	responseHeader http.Header
}

// UnsampledURL is a discovered URL Layer 1 chose not to fetch; its
// PageType is only a URL-pattern guess, to be interpolated later.
type UnsampledURL struct {
	URL      string
	Depth    uint32
	PageType sitemap.PageType
}

// Layer1Result partitions Layer 0's discovered URLs into what got fetched
// and classified versus what is left for interpolation.
type Layer1Result struct {
	Sampled   []SampledPage
	Unsampled []UnsampledURL
}

// selectRepresentatives groups discovered URLs by their URL-pattern-only
// predicted PageType and picks minRepresentativesPerType from each group,
// always keeping the root, then fills the remaining allowance
// proportionally across groups by their relative size.
func selectRepresentatives(urls []DiscoveredURL, rootURL string, totalBudget int) (chosen []DiscoveredURL, rest []DiscoveredURL) {
	type group struct {
		pageType sitemap.PageType
		members  []DiscoveredURL
	}
	byType := make(map[sitemap.PageType]*group)
	var order []sitemap.PageType

	for _, d := range urls {
		pt, _ := classify.ClassifyPage(&extraction.StructuredData{}, d.URL)
		g, ok := byType[pt]
		if !ok {
			g = &group{pageType: pt}
			byType[pt] = g
			order = append(order, pt)
		}
		g.members = append(g.members, d)
	}

	chosenSet := make(map[string]bool)
	addChosen := func(d DiscoveredURL) {
		if chosenSet[d.URL] {
			return
		}
		chosenSet[d.URL] = true
		chosen = append(chosen, d)
	}

	for _, d := range urls {
		if d.URL == rootURL {
			addChosen(d)
			break
		}
	}

	for _, pt := range order {
		g := byType[pt]
		n := minRepresentativesPerType
		if n > len(g.members) {
			n = len(g.members)
		}
		for i := 0; i < n && len(chosen) < totalBudget; i++ {
			addChosen(g.members[i])
		}
	}

	if len(chosen) < totalBudget {
		remainingSlots := totalBudget - len(chosen)
		totalRemaining := 0
		for _, pt := range order {
			for _, m := range byType[pt].members {
				if !chosenSet[m.URL] {
					totalRemaining++
				}
			}
		}
		if totalRemaining > 0 {
			for _, pt := range order {
				g := byType[pt]
				share := (len(g.members) * remainingSlots) / totalRemaining
				added := 0
				for _, m := range g.members {
					if chosenSet[m.URL] {
						continue
					}
					if added >= share || len(chosen) >= totalBudget {
						break
					}
					addChosen(m)
					added++
				}
			}
		}
	}

	for _, d := range urls {
		if !chosenSet[d.URL] {
			rest = append(rest, d)
		}
	}

	sort.Slice(chosen, func(i, j int) bool { return chosen[i].Depth < chosen[j].Depth })
	return chosen, rest
}

// RunLayer1 fetches and classifies the selected representative set,
// honoring the per-domain politeness limiter and a global concurrency cap,
// and returns the unfetched remainder for later interpolation.
func RunLayer1(
	ctx context.Context,
	discovered []DiscoveredURL,
	rootURL string,
	fetcher crawler.Fetcher,
	robots crawler.RobotsPolicy,
	politeness *Politeness,
	budget Budget,
	sampleBudget int,
	logger *zap.Logger,
) Layer1Result {
	chosen, rest := selectRepresentatives(discovered, rootURL, sampleBudget)

	host := ""
	if u, err := url.Parse(rootURL); err == nil {
		host = u.Host
	}

	sem := make(chan struct{}, layer1Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var sampled []SampledPage

	for _, d := range chosen {
		if budget.Expired(time.Now()) {
			break
		}
		if !robots.Allowed(ctx, d.URL) {
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(d DiscoveredURL) {
			defer wg.Done()
			defer func() { <-sem }()

			page, ok := fetchAndClassify(ctx, d, fetcher, politeness, host, logger)
			if !ok {
				return
			}
			mu.Lock()
			sampled = append(sampled, page)
			mu.Unlock()
		}(d)
	}
	wg.Wait()

	unsampled := make([]UnsampledURL, 0, len(rest))
	for _, d := range rest {
		pt, _ := classify.ClassifyPage(&extraction.StructuredData{}, d.URL)
		unsampled = append(unsampled, UnsampledURL{URL: d.URL, Depth: d.Depth, PageType: pt})
	}

	return Layer1Result{Sampled: sampled, Unsampled: unsampled}
}

func fetchAndClassify(
	ctx context.Context,
	d DiscoveredURL,
	fetcher crawler.Fetcher,
	politeness *Politeness,
	host string,
	logger *zap.Logger,
) (SampledPage, bool) {
	release, err := politeness.Acquire(ctx, host)
	if err != nil {
		return SampledPage{}, false
	}
	defer release()

	start := time.Now()
	resp, err := fetcher.Fetch(ctx, crawler.FetchRequest{URL: d.URL, Depth: int(d.Depth)})
	if err != nil {
		backoff, _ := politeness.RecordOutcome(host, 0)
		Sleep(ctx, backoff)
		if logger != nil {
			logger.Warn("layer1 fetch failed, emitting degraded node",
				zap.String("url", d.URL), zap.Error(err))
		}
		return degradedPage(d), true
	}
	if backoff, _ := politeness.RecordOutcome(host, resp.StatusCode); backoff > 0 {
		Sleep(ctx, backoff)
	}

	sd, err := extraction.Extract(resp.Body, d.URL)
	if err != nil {
		return SampledPage{}, false
	}

	pageType, conf := classify.ClassifyPage(sd, d.URL)
	nav := classify.NavInfo{
		URL:           d.URL,
		Depth:         d.Depth,
		LoadTimeMS:    uint64(time.Since(start).Milliseconds()),
		HTTPStatus:    resp.StatusCode,
		RobotsAllowed: true,
	}
	features := classify.EncodeFeatures(sd, nav, pageType, conf)

	return SampledPage{
		URL:            d.URL,
		Depth:          d.Depth,
		PageType:       pageType,
		Confidence:     conf,
		Features:       features,
		Data:           sd,
		Nav:            nav,
		RawHTML:        resp.Body,
		responseHeader: resp.Headers,
	}, true
}

// degradedPage is the placeholder node emitted for a URL whose fetch
// failed outright, so it still appears in the map instead of silently
// vanishing: http_status 0, low fixed confidence, flagged estimated.
func degradedPage(d DiscoveredURL) SampledPage {
	sd := &extraction.StructuredData{}
	nav := classify.NavInfo{URL: d.URL, Depth: d.Depth, HTTPStatus: 0}
	return SampledPage{
		URL:        d.URL,
		Depth:      d.Depth,
		PageType:   sitemap.PageUnknown,
		Confidence: degradedConfidence,
		Features:   classify.EncodeFeatures(sd, nav, sitemap.PageUnknown, degradedConfidence),
		Data:       sd,
		Nav:        nav,
		Degraded:   true,
	}
}
