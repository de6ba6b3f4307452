package acquisition

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/cortexmap/cortex/internal/crawler"
)

// Config bundles everything the scheduler needs to run one domain's
// acquisition pipeline end to end.
type Config struct {
	RootURL       string
	UserAgent     string
	RespectRobots bool
	MaxRender     int
	SampleBudget  int // Layer 1's structured-data sample size

	HTTPFetcher      crawler.Fetcher         // Layer 0 root-page and Layer 1 GET fetches
	HeadlessFetcher  crawler.Fetcher         // Layer 3 render fallback; nil disables it
	HeadlessDetector crawler.HeadlessDetector // optional extra Layer 3 promotion signal
	HTTPClient       *http.Client            // used for robots.txt, sitemap and Layer 2 catalog fetches
	Logger           *zap.Logger
}

// Result is everything the acquisition pipeline produced for one domain,
// ready for the graph builder and feature encoder.
type Result struct {
	Sampled           []SampledPage
	Unsampled         []UnsampledURL
	Actions           []ActionSample
	CrawlDelay        time.Duration
	UsedSitemap       bool
	ProgressiveActive bool // a layer was cut short by its budget checkpoint
}

// Run drives Layers 0 through 3 against one domain under a single deadline
// clock, honoring each layer's budget checkpoint, and returns whatever was
// accumulated even if a later layer never ran.
func Run(ctx context.Context, cfg Config, budget Budget) (Result, error) {
	politeness := NewPoliteness(5, 50*time.Millisecond)
	robots := crawler.NewRobotsEnforcer(cfg.RespectRobots, cfg.UserAgent, cfg.Logger)

	layer0, err := RunLayer0(ctx, cfg.RootURL, cfg.HTTPClient, cfg.HTTPFetcher, politeness, budget, cfg.UserAgent)
	if err != nil {
		return Result{}, err
	}
	if layer0.CrawlDelay > 0 {
		if u, err := url.Parse(cfg.RootURL); err == nil {
			politeness.SetCrawlDelay(u.Host, layer0.CrawlDelay)
		}
	}
	progressive := budget.PastFraction(time.Now(), Layer0Checkpoint)

	layer1 := RunLayer1(ctx, layer0.URLs, cfg.RootURL, cfg.HTTPFetcher, robots, politeness, budget, cfg.SampleBudget, cfg.Logger)
	sampled := RunLayer15(layer1.Sampled)
	sampled = RunLayer2(ctx, cfg.HTTPClient, sampled, politeness, cfg.UserAgent)
	actions := RunLayer25(sampled)

	if cfg.HeadlessFetcher != nil && cfg.MaxRender > 0 && !budget.PastFraction(time.Now(), Layer3Checkpoint) {
		pool := NewRenderPool(cfg.HeadlessFetcher, cfg.HeadlessDetector, 8, cfg.MaxRender)
		sampled = RunLayer3(ctx, sampled, pool, budget)
		actions = RunLayer25(sampled)
	}

	if budget.Expired(time.Now()) {
		progressive = true
	}

	return Result{
		Sampled:           sampled,
		Unsampled:         layer1.Unsampled,
		Actions:           actions,
		CrawlDelay:        layer0.CrawlDelay,
		UsedSitemap:       layer0.UsedSitemap,
		ProgressiveActive: progressive,
	}, nil
}
