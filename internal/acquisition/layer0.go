package acquisition

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/temoto/robotstxt"

	"github.com/cortexmap/cortex/internal/cortexerr"
	"github.com/cortexmap/cortex/internal/crawler"
	"github.com/cortexmap/cortex/internal/extraction"
)

// DiscoveredURL is one URL found during Layer 0, before any content has
// been fetched for it.
type DiscoveredURL struct {
	URL    string
	Depth  uint32
	Source string // "sitemap" or "crawl"
}

// Layer0Result is the output of the entry-point discovery layer: the set
// of candidate URLs plus politeness facts pulled from robots.txt.
type Layer0Result struct {
	URLs        []DiscoveredURL
	CrawlDelay  time.Duration
	UsedSitemap bool
}

// maxSitemapNesting caps recursive sitemap-index expansion so a
// pathological or malicious sitemap tree cannot loop forever.
const maxSitemapNesting = 5

// maxCrawlDiscoveryURLs caps the crawl-discovery fallback's frontier when
// no sitemap.xml is available.
const maxCrawlDiscoveryURLs = 500

// maxHeadSamples caps how many of the crawl-discovery candidates get a
// HEAD probe to confirm liveness before being handed to Layer 1.
const maxHeadSamples = 100

// RunLayer0 discovers candidate URLs for a domain. It prefers robots.txt's
// declared sitemap.xml (recursively expanded up to maxSitemapNesting); if
// none is declared or the sitemap yields nothing, it falls back to a
// one-level-deep crawl-discovery BFS from the root page, capped at
// maxCrawlDiscoveryURLs URLs with up to maxHeadSamples HEAD-sampled for
// liveness.
func RunLayer0(
	ctx context.Context,
	rootURL string,
	httpClient *http.Client,
	fetcher crawler.Fetcher,
	politeness *Politeness,
	budget Budget,
	userAgent string,
) (Layer0Result, error) {
	u, err := url.Parse(rootURL)
	if err != nil {
		return Layer0Result{}, fmt.Errorf("parse root url: %w", err)
	}
	host := u.Host

	robotsData, crawlDelay := fetchRobots(ctx, httpClient, u, userAgent)

	if robotsData != nil && len(robotsData.Sitemaps) > 0 {
		var urls []DiscoveredURL
		for _, sm := range robotsData.Sitemaps {
			if budget.PastFraction(time.Now(), Layer0Checkpoint) {
				break
			}
			found := expandSitemap(ctx, httpClient, politeness, host, sm, 0)
			urls = append(urls, found...)
		}
		if len(urls) > 0 {
			return Layer0Result{URLs: dedupeDiscovered(urls), CrawlDelay: crawlDelay, UsedSitemap: true}, nil
		}
	}

	urls, err := crawlDiscovery(ctx, rootURL, fetcher, politeness, budget, host)
	if err != nil {
		return Layer0Result{}, err
	}
	return Layer0Result{URLs: urls, CrawlDelay: crawlDelay}, nil
}

func fetchRobots(ctx context.Context, client *http.Client, u *url.URL, userAgent string) (*robotstxt.RobotsData, time.Duration) {
	robotsURL := *u
	robotsURL.Path = "/robots.txt"
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, 0
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, 0
	}
	var delay time.Duration
	if group := data.FindGroup(userAgent); group != nil {
		delay = group.CrawlDelay
	}
	return data, delay
}

// expandSitemap fetches one sitemap URL and, if it is a sitemap index,
// recurses into its children up to maxSitemapNesting levels deep.
func expandSitemap(ctx context.Context, client *http.Client, politeness *Politeness, host, sitemapURL string, depth int) []DiscoveredURL {
	if depth > maxSitemapNesting {
		return nil
	}
	release, err := politeness.Acquire(ctx, host)
	if err != nil {
		return nil
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if backoff, _ := politeness.RecordOutcome(host, resp.StatusCode); backoff > 0 {
		Sleep(ctx, backoff)
	}
	if resp.StatusCode != 200 {
		return nil
	}

	doc, err := xmlquery.Parse(resp.Body)
	if err != nil {
		return nil
	}

	if indexLocs, qerr := xmlquery.QueryAll(doc, "//sitemapindex/sitemap/loc"); qerr == nil && len(indexLocs) > 0 {
		var out []DiscoveredURL
		for _, loc := range indexLocs {
			child := strings.TrimSpace(loc.InnerText())
			if child == "" {
				continue
			}
			out = append(out, expandSitemap(ctx, client, politeness, host, child, depth+1)...)
		}
		return out
	}

	urlLocs, qerr := xmlquery.QueryAll(doc, "//urlset/url/loc")
	if qerr != nil {
		return nil
	}
	out := make([]DiscoveredURL, 0, len(urlLocs))
	for _, loc := range urlLocs {
		href := strings.TrimSpace(loc.InnerText())
		if href == "" {
			continue
		}
		out = append(out, DiscoveredURL{URL: href, Source: "sitemap"})
	}
	return out
}

// crawlDiscovery does a one-level-deep BFS from the root page: fetch the
// root, collect same-host links, then HEAD-sample up to maxHeadSamples of
// them to confirm they resolve before returning the full candidate set
// (capped at maxCrawlDiscoveryURLs).
func crawlDiscovery(
	ctx context.Context,
	rootURL string,
	fetcher crawler.Fetcher,
	politeness *Politeness,
	budget Budget,
	host string,
) ([]DiscoveredURL, error) {
	release, err := politeness.Acquire(ctx, host)
	if err != nil {
		return nil, err
	}
	resp, err := fetcher.Fetch(ctx, crawler.FetchRequest{URL: rootURL})
	release()
	if err != nil {
		return nil, classifyRootFetchError(err, rootURL)
	}
	if backoff, _ := politeness.RecordOutcome(host, resp.StatusCode); backoff > 0 {
		Sleep(ctx, backoff)
	}

	sd, err := extraction.Extract(resp.Body, rootURL)
	out := []DiscoveredURL{{URL: rootURL, Depth: 0, Source: "crawl"}}
	if err == nil {
		for _, l := range sd.Links {
			if l.Type != extraction.LinkInternal {
				continue
			}
			if len(out) >= maxCrawlDiscoveryURLs {
				break
			}
			out = append(out, DiscoveredURL{URL: l.URL, Depth: 1, Source: "crawl"})
		}
	}

	sampleLimit := maxHeadSamples
	if sampleLimit > len(out) {
		sampleLimit = len(out)
	}
	verified := make([]DiscoveredURL, 0, len(out))
	for i, d := range out {
		if budget.PastFraction(time.Now(), Layer0Checkpoint) {
			verified = append(verified, out[i:]...)
			break
		}
		if i >= sampleLimit {
			verified = append(verified, d)
			continue
		}
		if headAlive(ctx, d.URL, politeness, host) {
			verified = append(verified, d)
		}
	}
	return dedupeDiscovered(verified), nil
}

// classifyRootFetchError turns a failure to fetch the root page into the
// RPC-visible error code it maps to: a DNS resolution failure on the root
// domain becomes E_MAP_DNS_FAILED, a deadline elapsing before the root
// resolved becomes E_MAP_TIMEOUT, anything else stays a plain wrapped error.
func classifyRootFetchError(err error, rawURL string) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return cortexerr.Wrap(cortexerr.EMapDNSFailed, "root domain DNS lookup failed for "+rawURL, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return cortexerr.Wrap(cortexerr.EMapTimeout, "deadline elapsed before the root page resolved for "+rawURL, err)
	}
	return fmt.Errorf("fetch root: %w", err)
}

func headAlive(ctx context.Context, rawURL string, politeness *Politeness, host string) bool {
	release, err := politeness.Acquire(ctx, host)
	if err != nil {
		return false
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		backoff, _ := politeness.RecordOutcome(host, 0)
		Sleep(ctx, backoff)
		return false
	}
	defer resp.Body.Close()
	if backoff, _ := politeness.RecordOutcome(host, resp.StatusCode); backoff > 0 {
		Sleep(ctx, backoff)
	}
	return resp.StatusCode < 400
}

func dedupeDiscovered(in []DiscoveredURL) []DiscoveredURL {
	seen := make(map[string]bool, len(in))
	out := make([]DiscoveredURL, 0, len(in))
	for _, d := range in {
		if seen[d.URL] {
			continue
		}
		seen[d.URL] = true
		out = append(out, d)
	}
	return out
}
