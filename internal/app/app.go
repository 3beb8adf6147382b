// Package app assembles the long-lived crawl services from configuration and
// owns their shutdown.
package app

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecorpus/internal/api"
	"github.com/JakeFAU/sitecorpus/internal/clock/system"
	"github.com/JakeFAU/sitecorpus/internal/config"
	"github.com/JakeFAU/sitecorpus/internal/crawler"
	"github.com/JakeFAU/sitecorpus/internal/extract"
	"github.com/JakeFAU/sitecorpus/internal/fetcher"
	collyfetcher "github.com/JakeFAU/sitecorpus/internal/fetcher/colly"
	"github.com/JakeFAU/sitecorpus/internal/fetcher/headless"
	"github.com/JakeFAU/sitecorpus/internal/headless/detector"
	"github.com/JakeFAU/sitecorpus/internal/id/uuid"
	"github.com/JakeFAU/sitecorpus/internal/language"
	"github.com/JakeFAU/sitecorpus/internal/pipeline"
	"github.com/JakeFAU/sitecorpus/internal/policy/ratelimit"
	"github.com/JakeFAU/sitecorpus/internal/policy/robots"
	"github.com/JakeFAU/sitecorpus/internal/publisher/pubsub"
	"github.com/JakeFAU/sitecorpus/internal/records"
	"github.com/JakeFAU/sitecorpus/internal/stats"
	"github.com/JakeFAU/sitecorpus/internal/storage/gcs"
	"github.com/JakeFAU/sitecorpus/internal/storage/local"
	"github.com/JakeFAU/sitecorpus/internal/storage/postgres"
)

// Crawl holds every service one crawl run needs.
type Crawl struct {
	cfg    config.Config
	logger *zap.Logger
	run    crawler.RunInfo

	stats  *stats.Aggregator
	store  *records.Store
	engine *crawler.Engine
	server *api.Server

	closers []func()
}

// Options lets callers replace infrastructure, mainly in tests.
type Options struct {
	Clock     crawler.Clock
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Summaries crawler.SummaryStore
}

// NewCrawl builds the services for one crawl. It fails fast when any
// configured backend cannot be reached.
func NewCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *Crawl, err error) {
	if err := cfg.ValidateCrawl(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}

	c := &Crawl{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	c.run = crawler.RunInfo{ID: runID, Domain: cfg.Crawler.Domain, StartURL: cfg.Crawler.StartURL}
	logger = logger.With(zap.String("run_id", runID))
	c.logger = logger

	blobs, location, err := c.blobStore(ctx, opts.Blobs)
	if err != nil {
		return nil, err
	}
	runDir := records.RunDirName(cfg.Crawler.Domain, opts.Clock.Now())
	c.store = records.NewStore(blobs, runDir)
	logger.Info("saving pages to", zap.String("location", location(runDir)))

	pub, err := c.publisher(ctx, opts.Publisher)
	if err != nil {
		return nil, err
	}
	summaries, err := c.summaryStore(ctx, opts.Summaries)
	if err != nil {
		return nil, err
	}

	c.stats = stats.New(opts.Clock)
	pipe, err := pipeline.New(c.run, pipeline.Deps{
		Records:   c.store,
		Stats:     c.stats,
		Publisher: pub,
		Summaries: summaries,
		Clock:     opts.Clock,
		Logger:    logger.Named("pipeline"),
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	router, err := c.fetcher(logger.Named("fetcher"))
	if err != nil {
		return nil, err
	}

	scope := crawler.NewScope(crawler.ScopeConfig{
		Domain:            cfg.Crawler.Domain,
		IncludeSubdomains: cfg.Crawler.IncludeSubdomains,
		AllowWWW:          cfg.Crawler.AllowWWW,
		DenyHosts:         cfg.Crawler.DenyHosts,
	})
	c.engine, err = crawler.NewEngine(crawler.EngineConfig{
		StartURL:    cfg.Crawler.StartURL,
		Concurrency: cfg.Crawler.Concurrency,
		MaxPages:    cfg.Crawler.MaxPages,
	}, scope, router, c.extractor(opts.Clock, logger.Named("extract")), pipe, logger.Named("crawler"))
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	if cfg.Metrics.ListenAddr != "" {
		c.server = api.NewServer(c.run, c.stats, c.engine, logger.Named("api"))
	}
	return c, nil
}

// Run returns the identity of this crawl.
func (c *Crawl) Run() crawler.RunInfo {
	return c.run
}

// RunDir returns the run directory relative to the record store root.
func (c *Crawl) RunDir() string {
	return c.store.RunDir()
}

// Execute serves the operator API, if configured, and crawls until done. A
// failing API server stops the crawl with reason error.
func (c *Crawl) Execute(ctx context.Context) (crawler.Summary, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	serveCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	if c.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.server.ListenAndServe(serveCtx, c.cfg.Metrics.ListenAddr); err != nil {
				c.logger.Error("http server error", zap.Error(err))
				cancel(err)
			}
		}()
		c.server.SetReady(true)
	}

	summary, err := c.engine.Run(runCtx)
	stopServer()
	wg.Wait()
	if err != nil {
		return summary, fmt.Errorf("run crawl: %w", err)
	}
	return summary, nil
}

// Close releases every backend opened by NewCrawl, in reverse order.
func (c *Crawl) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *Crawl) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

func (c *Crawl) blobStore(ctx context.Context, override crawler.BlobStore) (crawler.BlobStore, func(string) string, error) {
	if override != nil {
		return override, func(dir string) string { return dir }, nil
	}
	switch c.cfg.Storage.Backend {
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		c.onClose(func() {
			if err := client.Close(); err != nil {
				c.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		store, err := gcs.New(client, gcs.Config{Bucket: c.cfg.Storage.GCSBucket, Prefix: c.cfg.Storage.Prefix})
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, func(dir string) string {
			return "gs://" + path.Join(c.cfg.Storage.GCSBucket, store.ObjectName(dir))
		}, nil
	default:
		store, err := local.New(local.Config{BaseDir: c.cfg.Crawler.OutputRoot})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: init local store: %w", crawler.ErrInvalidInvocation, err)
		}
		return store, func(dir string) string { return filepath.Join(store.BaseDir(), dir) }, nil
	}
}

func (c *Crawl) publisher(ctx context.Context, override crawler.Publisher) (crawler.Publisher, error) {
	if override != nil || c.cfg.PubSub.TopicName == "" {
		return override, nil
	}
	pub, err := pubsub.Dial(ctx, pubsub.Config{ProjectID: c.cfg.PubSub.ProjectID, TopicID: c.cfg.PubSub.TopicName})
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	c.onClose(func() {
		if err := pub.Close(); err != nil {
			c.logger.Warn("close pubsub publisher", zap.Error(err))
		}
	})
	return pub, nil
}

func (c *Crawl) summaryStore(ctx context.Context, override crawler.SummaryStore) (crawler.SummaryStore, error) {
	if override != nil || c.cfg.DB.DSN == "" {
		return override, nil
	}
	store, err := postgres.NewSummaryStore(ctx, postgres.SummaryStoreConfig{
		DSN:   c.cfg.DB.DSN,
		Table: c.cfg.DB.SummaryTable,
	})
	if err != nil {
		return nil, fmt.Errorf("init summary store: %w", err)
	}
	c.onClose(store.Close)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure summary schema: %w", err)
	}
	return store, nil
}

func (c *Crawl) extractor(clock crawler.Clock, logger *zap.Logger) *extract.Extractor {
	var (
		raster extract.Rasterizer
		ocr    extract.OCR
	)
	if c.cfg.Extractor.OCREnabled {
		raster = extract.FitzRasterizer{}
		ocr = extract.NewTesseractOCR(c.cfg.Extractor.OCRLanguages)
	}
	chain := extract.NewPDFChain(extract.PDFConfig{
		DPI:         float64(c.cfg.Extractor.OCRDPI),
		MaxOCRPages: c.cfg.Extractor.OCRMaxPages,
		OCRTimeout:  c.cfg.OCRTimeout(),
	}, extract.NativeTextLayer{}, raster, ocr, logger)
	detect := language.NewLingua(language.Config{
		Languages:           c.cfg.Language.Languages,
		MinRelativeDistance: c.cfg.Language.MinRelativeDistance,
	})
	return extract.New(extract.Config{DetectChars: c.cfg.Extractor.DetectChars}, detect, chain, clock, logger)
}

func (c *Crawl) fetcher(logger *zap.Logger) (*fetcher.Router, error) {
	agents := c.cfg.Crawler.UserAgents
	var defaultAgent string
	if len(agents) > 0 {
		defaultAgent = agents[0]
	}
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   defaultAgent,
		Timeout:     c.cfg.RequestTimeout(),
		MaxBodySize: c.cfg.Crawler.MaxBodyBytes,
	})

	retry := fetcher.DefaultRetryPolicy()
	retry.MaxAttempts = c.cfg.Crawler.MaxRetries + 1
	opts := []fetcher.Option{
		fetcher.WithRetry(retry),
		fetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			RPS:   c.cfg.Crawler.RateLimitRPS,
			Burst: c.cfg.Crawler.RateLimitBurst,
		})),
	}
	if c.cfg.Crawler.RespectRobots {
		enforcer := robots.New(robots.Config{Timeout: c.cfg.RequestTimeout()}, httpFetcher.Transport(), logger.Named("robots"))
		opts = append(opts, fetcher.WithRobots(enforcer))
	}
	if c.cfg.Headless.Mode != fetcher.HeadlessOff {
		browser, err := headless.NewChromedp(headless.Config{
			MaxParallel:       c.cfg.Headless.MaxParallel,
			UserAgent:         defaultAgent,
			NavigationTimeout: c.cfg.NavTimeout(),
			SettleDelay:       c.cfg.SettleDelay(),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: init headless fetcher: %w", crawler.ErrInvalidInvocation, err)
		}
		c.onClose(browser.Close)
		opts = append(opts,
			fetcher.WithHeadless(browser),
			fetcher.WithDetector(detector.NewHeuristic(c.cfg.Headless.PromotionThreshold)),
		)
	}

	router, err := fetcher.NewRouter(fetcher.Config{
		UserAgents:   agents,
		HeadlessMode: c.cfg.Headless.Mode,
	}, httpFetcher, logger, opts...)
	if err != nil {
		return nil, err
	}
	return router, nil
}
