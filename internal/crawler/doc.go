// Package crawler defines the fetcher, queue, storage, policy and job-store
// interfaces and the request/response types shared across subsystems, plus
// the robots.txt enforcer used by acquisition. It contains no crawl engine.
package crawler
