// Package discovery implements the breadth-first crawl that turns seed URLs
// into a session's document manifest.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vendor-review-pipeline/internal/classify"
	"github.com/JakeFAU/vendor-review-pipeline/internal/metrics"
	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// Config bounds the crawl.
type Config struct {
	MaxDepth        int
	MaxDocuments    int
	MaxLinksPerPage int
	Workers         int
	FetchTimeout    time.Duration
	BlobPrefix      string
	ContentType     string
}

func (c Config) withDefaults() Config {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 2
	}
	if c.MaxDocuments <= 0 {
		c.MaxDocuments = 50
	}
	if c.MaxLinksPerPage <= 0 {
		c.MaxLinksPerPage = 25
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.BlobPrefix == "" {
		c.BlobPrefix = "sessions"
	}
	if c.ContentType == "" {
		c.ContentType = "text/html; charset=utf-8"
	}
	return c
}

// Limiter gates fetches per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Classifier tags a fetched document.
type Classifier interface {
	Classify(ctx context.Context, url, text string) []review.Category
}

// Engine drives the crawl. Workers fetch concurrently; all manifest and
// dedup-index writes happen on the coordinating goroutine between depth
// levels.
type Engine struct {
	probe      review.Fetcher
	headless   review.Fetcher
	detector   review.HeadlessDetector
	classifier Classifier
	limiter    Limiter
	blobs      review.BlobStore
	hasher     review.Hasher
	clock      review.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Engine. The headless fetcher, detector, limiter and blob
// store are optional; a nil blob store skips raw-page archival.
func New(
	probe review.Fetcher,
	headless review.Fetcher,
	detector review.HeadlessDetector,
	classifier Classifier,
	limiter Limiter,
	blobs review.BlobStore,
	hasher review.Hasher,
	clock review.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		probe:      probe,
		headless:   headless,
		detector:   detector,
		classifier: classifier,
		limiter:    limiter,
		blobs:      blobs,
		hasher:     hasher,
		clock:      clock,
		cfg:        cfg.withDefaults(),
		logger:     logger.Named("discovery"),
	}
}

type target struct {
	url       string
	canonical string
	depth     int
	declared  []review.Category
}

type crawlResult struct {
	target target
	resp   review.FetchResponse
	err    error
}

// Discover crawls the session's seeds breadth-first and merges the results
// into its manifest. Re-running on the same session is idempotent: records a
// reviewer already touched keep their human-set inclusion state.
func (e *Engine) Discover(ctx context.Context, session *review.Session) error {
	if e.probe == nil {
		return fmt.Errorf("no probe fetcher configured")
	}

	index := review.NewDedupIndex()
	allowedHosts := make(map[string]struct{})

	var frontier []target
	for _, seed := range session.Seeds {
		canonical, err := review.NormalizeURL(seed.URL, false)
		if err != nil {
			e.logger.Warn("seed rejected", zap.String("url", seed.URL), zap.Error(err))
			session.Manifest.Upsert(review.DocumentRecord{
				Name:         seed.URL,
				SourceURL:    seed.URL,
				CanonicalURL: seed.URL,
				Origin:       review.OriginCrawled,
				FetchError:   fmt.Sprintf("invalid seed url: %v", err),
				RetrievedAt:  e.clock.Now(),
			})
			continue
		}
		if u, err := url.Parse(canonical); err == nil {
			allowedHosts[u.Hostname()] = struct{}{}
		}
		if index.Visit(canonical) {
			frontier = append(frontier, target{
				url:       seed.URL,
				canonical: canonical,
				depth:     0,
				declared:  seed.Categories,
			})
		}
	}

	fetched := 0
	for len(frontier) > 0 {
		if ctx.Err() != nil {
			return fmt.Errorf("discovery canceled: %w", ctx.Err())
		}
		if remaining := e.cfg.MaxDocuments - fetched; len(frontier) > remaining {
			frontier = frontier[:remaining]
		}
		if len(frontier) == 0 {
			break
		}

		results := e.fetchAll(ctx, frontier)
		fetched += len(results)

		var next []target
		for _, res := range results {
			record, links := e.buildRecord(ctx, session, res)
			session.Manifest.Upsert(record)
			if res.target.depth >= e.cfg.MaxDepth {
				continue
			}
			next = append(next, e.expandLinks(index, allowedHosts, res.target, links)...)
		}
		frontier = next
	}

	e.recordUnlinkedReferences(session)
	return nil
}

// fetchAll fetches one frontier level with a bounded worker pool. Each worker
// writes only its own slot, so no locking is needed.
func (e *Engine) fetchAll(ctx context.Context, frontier []target) []crawlResult {
	results := make([]crawlResult, len(frontier))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, tgt := range frontier {
		g.Go(func() error {
			results[i] = e.fetchOne(gctx, tgt)
			return nil
		})
	}
	// Workers never return errors; failures live in their result slots.
	_ = g.Wait()
	return results
}

func (e *Engine) fetchOne(ctx context.Context, tgt target) crawlResult {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, tgt.url); err != nil {
			return crawlResult{target: tgt, err: &review.FetchError{URL: tgt.url, Err: err}}
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	resp, err := e.probe.Fetch(fetchCtx, review.FetchRequest{URL: tgt.url})
	if err != nil {
		metrics.ObserveDiscoveryFetch(tgt.url, "error", 0)
		return crawlResult{target: tgt, err: &review.FetchError{URL: tgt.url, Err: err}}
	}

	resp = e.maybePromote(fetchCtx, tgt, resp)
	metrics.ObserveDiscoveryFetch(tgt.url, "success", len(resp.Body))
	return crawlResult{target: tgt, resp: resp}
}

func (e *Engine) maybePromote(ctx context.Context, tgt target, resp review.FetchResponse) review.FetchResponse {
	if e.headless == nil || e.detector == nil || !e.detector.ShouldPromote(resp) {
		return resp
	}
	headlessResp, err := e.headless.Fetch(ctx, review.FetchRequest{URL: tgt.url, UseHeadless: true})
	if err != nil {
		e.logger.Warn("headless promotion failed", zap.String("url", tgt.url), zap.Error(err))
		return resp
	}
	metrics.ObserveHeadlessPromotion()
	headlessResp.UsedHeadless = true
	// The probe already extracted anchors; a rendered page may add more.
	if len(headlessResp.Links) == 0 {
		headlessResp.Links = resp.Links
	}
	return headlessResp
}

func (e *Engine) buildRecord(ctx context.Context, session *review.Session, res crawlResult) (review.DocumentRecord, []string) {
	now := e.clock.Now()
	if res.err != nil {
		e.logger.Warn("fetch failed",
			zap.String("url", res.target.url),
			zap.Error(res.err),
		)
		return review.DocumentRecord{
			Name:         res.target.url,
			SourceURL:    res.target.url,
			CanonicalURL: res.target.canonical,
			Categories:   []review.Category{review.CategoryUnclassified},
			Origin:       review.OriginCrawled,
			Depth:        res.target.depth,
			FetchError:   res.err.Error(),
			RetrievedAt:  now,
		}, nil
	}

	text, err := ExtractText(res.resp.Body)
	if err != nil {
		text = string(res.resp.Body)
	}

	cats := e.classifier.Classify(ctx, res.target.url, text)
	for _, declared := range res.target.declared {
		cats = mergeCategory(cats, declared)
	}
	included := false
	for _, c := range cats {
		if c != review.CategoryUnclassified {
			included = true
			break
		}
	}
	if len(cats) == 0 {
		cats = []review.Category{review.CategoryUnclassified}
	}

	record := review.DocumentRecord{
		Name:         classify.DeriveName(res.target.url, string(res.resp.Body)),
		SourceURL:    res.target.url,
		CanonicalURL: res.target.canonical,
		Text:         text,
		Categories:   cats,
		Included:     included,
		Origin:       review.OriginCrawled,
		Depth:        res.target.depth,
		RetrievedAt:  now,
	}
	record.BlobURI = e.archive(ctx, session.ID, res.resp.Body)
	return record, res.resp.Links
}

// archive stores the raw page body; failures only cost the blob reference.
func (e *Engine) archive(ctx context.Context, sessionID string, body []byte) string {
	if e.blobs == nil || len(body) == 0 {
		return ""
	}
	hash, err := e.hasher.Hash(body)
	if err != nil {
		e.logger.Warn("hash body failed", zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("%s/%s/%s.html", strings.Trim(e.cfg.BlobPrefix, "/"), sessionID, hash)
	uri, err := e.blobs.PutObject(ctx, path, e.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("archive page failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func (e *Engine) expandLinks(
	index *review.DedupIndex,
	allowedHosts map[string]struct{},
	from target,
	links []string,
) []target {
	var next []target
	for _, link := range links {
		if len(next) >= e.cfg.MaxLinksPerPage {
			break
		}
		canonical, err := review.NormalizeURL(link, false)
		if err != nil {
			continue
		}
		u, err := url.Parse(canonical)
		if err != nil {
			continue
		}
		if _, ok := allowedHosts[u.Hostname()]; !ok {
			continue
		}
		if !index.Visit(canonical) {
			continue
		}
		next = append(next, target{
			url:       canonical,
			canonical: canonical,
			depth:     from.depth + 1,
		})
	}
	return next
}

func mergeCategory(cats []review.Category, c review.Category) []review.Category {
	for _, have := range cats {
		if have == c {
			return cats
		}
	}
	return append(cats, c)
}
