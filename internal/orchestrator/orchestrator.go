package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cortexmap/cortex/internal/acquisition"
	"github.com/cortexmap/cortex/internal/classify"
	"github.com/cortexmap/cortex/internal/cortexerr"
	"github.com/cortexmap/cortex/internal/crawler"
	"github.com/cortexmap/cortex/internal/extraction"
	"github.com/cortexmap/cortex/internal/sitemap"
)

// Orchestrator ties one Cache to the fetch/render resources every
// acquisition run needs. Map and Refresh are its only two operations.
type Orchestrator struct {
	cache *Cache

	httpFetcher      crawler.Fetcher
	headlessFetcher  crawler.Fetcher // nil disables Layer 3
	headlessDetector crawler.HeadlessDetector
	httpClient       *http.Client
	userAgent        string
	defaultDeadline  time.Duration
	logger           *zap.Logger
}

// NewOrchestrator builds an Orchestrator around a fresh Cache.
// headlessFetcher may be nil to run without a render fallback.
func NewOrchestrator(httpFetcher, headlessFetcher crawler.Fetcher, httpClient *http.Client, userAgent string, logger *zap.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		cache:           New(opts),
		httpFetcher:     httpFetcher,
		headlessFetcher: headlessFetcher,
		httpClient:      httpClient,
		userAgent:       userAgent,
		defaultDeadline: 10 * time.Second,
		logger:          logger,
	}
}

// WithHeadlessDetector attaches an extra per-page Layer 3 promotion signal
// (beyond feature-coverage) and returns the same Orchestrator for chaining.
func (o *Orchestrator) WithHeadlessDetector(d crawler.HeadlessDetector) *Orchestrator {
	o.headlessDetector = d
	return o
}

// Map runs MAP for params, serving from cache when a fresh entry exists
// and force is false. The returned release func must be called once the
// caller is done reading the entry's SiteMap.
func (o *Orchestrator) Map(ctx context.Context, params MapParams, force bool) (*CacheEntry, func(), error) {
	return o.cache.GetOrBuild(ctx, params, force, o.build)
}

// Invalidate marks params' cached entry stale, forcing the next Map to
// rebuild.
func (o *Orchestrator) Invalidate(params MapParams) {
	o.cache.Invalidate(params.CacheKey())
}

func (o *Orchestrator) build(ctx context.Context, params MapParams) (*sitemap.SiteMap, error) {
	deadline := time.Duration(params.MaxTimeMS) * time.Millisecond
	if deadline <= 0 {
		deadline = o.defaultDeadline
	}
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	entryPoint := params.Domain
	if len(params.EntryPoints) > 0 {
		entryPoint = params.EntryPoints[0]
	}

	sampleBudget := params.MaxNodes
	if sampleBudget <= 0 {
		sampleBudget = 200
	}

	cfg := acquisition.Config{
		RootURL:          entryPoint,
		UserAgent:        o.userAgent,
		RespectRobots:    params.RespectRobots,
		MaxRender:        params.MaxRender,
		SampleBudget:     sampleBudget,
		HTTPFetcher:      o.httpFetcher,
		HeadlessFetcher:  o.headlessFetcher,
		HeadlessDetector: o.headlessDetector,
		HTTPClient:       o.httpClient,
		Logger:           o.logger,
	}
	deadlineTime, _ := runCtx.Deadline()
	budget := acquisition.NewBudget(start, deadlineTime, true)

	result, err := acquisition.Run(runCtx, cfg, budget)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, cortexerr.Wrap(cortexerr.EMapTimeout, "map deadline elapsed for "+entryPoint, err)
		}
		return nil, err
	}
	if runCtx.Err() == context.DeadlineExceeded && len(result.Sampled) == 0 {
		return nil, cortexerr.New(cortexerr.EMapTimeout, "map deadline elapsed before any url resolved for "+entryPoint)
	}

	m, err := assemble(params.Domain, result, start)
	if err != nil {
		return nil, err
	}
	m.MappedAt = uint32(start.Unix())
	m.ProgressiveActive = result.ProgressiveActive
	return m, nil
}

// assemble drives the graph builder over one acquisition Result: sampled
// pages become fully-featured nodes, unsampled URLs are interpolated from
// already-rendered nodes sharing their PageType, extracted links become
// edges, and discovered actions are attached once every node exists.
func assemble(domain string, result acquisition.Result, mappedAt time.Time) (*sitemap.SiteMap, error) {
	b := sitemap.NewBuilder(domain)
	byType := samplesByPageType(result.Sampled)

	for _, p := range result.Sampled {
		idx, err := b.AddNode(p.URL, p.PageType, p.Features, p.Confidence)
		if err != nil {
			continue
		}
		b.SetNodeDepth(idx, p.Depth)
		b.SetNodeFlags(idx, nodeFlagsFor(p))

		var renderedAt uint32
		if p.Rendered {
			renderedAt = uint32(time.Since(mappedAt).Seconds()) + 1
		}
		b.SetNodeMeta(idx, contentHash(p.RawHTML), renderedAt, uint32(p.Nav.HTTPStatus))
	}

	for _, u := range result.Unsampled {
		row, estimated := classify.Interpolate(byType[u.PageType], urlOnlyFeatures(u))
		idx, err := b.AddNode(u.URL, u.PageType, row, 0)
		if err != nil {
			continue
		}
		b.SetNodeDepth(idx, u.Depth)
		if estimated {
			b.SetNodeFlags(idx, sitemap.NodeEstimated)
		}
	}

	addEdges(b, result.Sampled)

	for _, a := range result.Actions {
		from, ok := b.IndexOf(a.URL)
		if !ok {
			continue
		}
		for _, da := range a.Actions {
			target := sitemap.NodeSentinel
			if t, ok := b.IndexOf(da.TargetURL); ok {
				target = t
			}
			_ = b.AddAction(from, da.Opcode, target, da.CostHint, da.Risk)
		}
	}

	return b.Build()
}

func nodeFlagsFor(p acquisition.SampledPage) sitemap.NodeFlags {
	var f sitemap.NodeFlags
	if p.Degraded {
		f |= sitemap.NodeEstimated
	}
	if p.Data != nil {
		// a GET-fetched page already carries real extracted content, so it
		// counts as rendered for interpolation purposes even without a
		// headless pass; Layer 3 only adds renderedAt for pages that were
		// actually re-rendered headlessly.
		f |= sitemap.NodeRendered
		if len(p.Data.Forms) > 0 {
			f |= sitemap.NodeHasForm
		}
		if hasPrice(p.Data) {
			f |= sitemap.NodeHasPrice
		}
		if len(p.Data.Images) > 0 || p.Data.VideoCount > 0 {
			f |= sitemap.NodeHasMedia
		}
	}
	if p.PageType == sitemap.PageLogin || p.PageType == sitemap.PageAccount {
		f |= sitemap.NodeAuthRequired
	}
	if p.Nav.HTTPStatus >= 400 {
		f |= sitemap.NodeBlocked
	}
	return f
}

func hasPrice(sd *extraction.StructuredData) bool {
	for _, item := range sd.JSONLD {
		if _, ok := item["offers"]; ok {
			return true
		}
	}
	return false
}

// contentHash is the 32-bit FNV-1a of the page's extracted body text,
// canonicalised by collapsing whitespace runs to single spaces. Input that
// does not parse as HTML is hashed as-is.
func contentHash(html []byte) uint32 {
	text := string(html)
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html)); err == nil {
		text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	}
	var h uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
	}
	return h
}

func samplesByPageType(pages []acquisition.SampledPage) map[sitemap.PageType][][sitemap.FeatureDim]float32 {
	out := make(map[sitemap.PageType][][sitemap.FeatureDim]float32)
	for _, p := range pages {
		out[p.PageType] = append(out[p.PageType], p.Features)
	}
	return out
}

func urlOnlyFeatures(u acquisition.UnsampledURL) [sitemap.FeatureDim]float32 {
	var row [sitemap.FeatureDim]float32
	row[sitemap.FeatDepth] = clamp01(float32(u.Depth) / 10.0)
	row[sitemap.FeatURLPathDepth] = clamp01(float32(classify.PathDepth(u.URL)) / 10.0)
	return row
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func addEdges(b *sitemap.Builder, pages []acquisition.SampledPage) {
	for _, p := range pages {
		from, ok := b.IndexOf(p.URL)
		if !ok || p.Data == nil {
			continue
		}
		for _, link := range p.Data.Links {
			to, ok := b.IndexOf(link.URL)
			if !ok {
				continue
			}
			et, flags := edgeFor(link)
			_ = b.AddEdge(from, to, et, edgeWeight(link), flags)
		}
	}
}

func edgeFor(link extraction.Link) (sitemap.EdgeType, sitemap.EdgeFlags) {
	var flags sitemap.EdgeFlags
	if link.Nofollow {
		flags |= sitemap.EdgeIsNofollow
	}
	switch link.Type {
	case extraction.LinkPagination:
		return sitemap.EdgePagination, flags
	case extraction.LinkBreadcrumb:
		return sitemap.EdgeBreadcrumb, flags
	case extraction.LinkDownload:
		return sitemap.EdgeContentLink, flags | sitemap.EdgeIsDownload
	case extraction.LinkExternal:
		flags |= sitemap.EdgeOpensNewContext
		return sitemap.EdgeExternal, flags
	case extraction.LinkAnchor:
		return sitemap.EdgeAnchor, flags
	default:
		return sitemap.EdgeContentLink, flags
	}
}

func edgeWeight(link extraction.Link) uint8 {
	if link.Type == extraction.LinkExternal {
		return 5
	}
	return 1
}
