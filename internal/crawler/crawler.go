// Package crawler fills in aircraft metadata (registration, type, operator)
// for transponder addresses seen on the live feed, querying external
// databases with per-source exponential backoff. It runs loosely coupled to
// the tracking engine: addresses are handed over through a bounded queue and
// results only ever touch the aircraft table.
package crawler

import (
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/skyspy/flightradar-go/internal/conf"
	"github.com/skyspy/flightradar-go/internal/datastore"
	"github.com/skyspy/flightradar-go/internal/logging"
	"github.com/skyspy/flightradar-go/internal/modes"
	"github.com/skyspy/flightradar-go/internal/observability/metrics"
)

var serviceLogger *slog.Logger

func init() {
	serviceLogger = logging.ForService("crawler")
}

// maxItemsPerCycle bounds how many queue entries one crawl cycle may touch.
const maxItemsPerCycle = 100

type crawlItem struct {
	icao24   string
	attempts int
}

// Crawler drains a queue of transponder addresses and persists whatever
// metadata the configured sources return. Addresses that resolved (or
// definitively failed) recently are remembered in a TTL cache so live-feed
// repeats do not hammer the sources.
type Crawler struct {
	mu sync.Mutex

	ds         datastore.Interface
	sources    []Source
	backoffs   map[string]*SourceBackoff
	queue      []crawlItem
	queued     map[string]struct{}
	queueSize  int
	maxRetries int
	interval   time.Duration
	processed  *gocache.Cache
	metrics    *metrics.CrawlerMetrics
}

// New builds a crawler from the configuration. Unknown source names are
// logged and skipped; an empty source list yields a crawler that accepts
// addresses but never resolves them.
func New(settings *conf.CrawlerSettings, ds datastore.Interface, m *metrics.CrawlerMetrics) *Crawler {
	queueSize := settings.QueueSize
	if queueSize <= 0 {
		queueSize = 500
	}
	maxRetries := settings.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	interval := time.Duration(settings.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ttl := time.Duration(settings.CacheTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	c := &Crawler{
		ds:         ds,
		backoffs:   make(map[string]*SourceBackoff),
		queued:     make(map[string]struct{}),
		queueSize:  queueSize,
		maxRetries: maxRetries,
		interval:   interval,
		processed:  gocache.New(ttl, 2*ttl),
		metrics:    m,
	}

	for _, name := range settings.Sources {
		var src Source
		switch name {
		case "hexdb":
			src = NewHexDB()
		case "opensky":
			src = NewOpenSky()
		case "bazllfr":
			src = NewBazlLFR()
		default:
			serviceLogger.Warn("unknown metadata source, skipping", "source", name)
			continue
		}
		c.sources = append(c.sources, src)
		c.backoffs[src.Name()] = NewSourceBackoff()
	}

	return c
}

// ScheduleLookup enqueues addresses for metadata lookup. Addresses already
// queued or recently processed are skipped; when the queue is full the rest
// of the batch is dropped and retried on a later cycle.
func (c *Crawler) ScheduleLookup(icao24s []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, addr := range icao24s {
		if !modes.IsICAO24Addr(addr) {
			continue
		}
		if _, ok := c.queued[addr]; ok {
			continue
		}
		if _, ok := c.processed.Get(addr); ok {
			continue
		}
		if len(c.queue) >= c.queueSize {
			serviceLogger.Debug("crawl queue full, dropping remaining addresses", "dropped", len(icao24s)-added)
			break
		}
		c.queue = append(c.queue, crawlItem{icao24: addr})
		c.queued[addr] = struct{}{}
		added++
	}

	if added > 0 {
		serviceLogger.Debug("scheduled aircraft for metadata lookup", "added", added, "queue", len(c.queue))
	}
	c.metrics.UpdateQueueDepth(len(c.queue))
}

// QueueDepth returns the number of pending crawl items.
func (c *Crawler) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Start drains the queue on a fixed interval until quitChan closes.
func (c *Crawler) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		serviceLogger.Info("crawler started", "interval", c.interval, "sources", len(c.sources))
		for {
			select {
			case <-quitChan:
				serviceLogger.Info("crawler stopping")
				return
			case <-ticker.C:
				c.ProcessQueue()
			}
		}
	}()
}

// ProcessQueue handles up to maxItemsPerCycle pending addresses. Items that
// could not be processed are requeued until their attempt budget runs out.
func (c *Crawler) ProcessQueue() {
	c.mu.Lock()
	n := min(len(c.queue), maxItemsPerCycle)
	batch := make([]crawlItem, n)
	copy(batch, c.queue[:n])
	c.queue = c.queue[n:]
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var requeue []crawlItem
	for i := range batch {
		item := &batch[i]
		if c.processItem(item.icao24) {
			c.markDone(item.icao24)
			continue
		}
		item.attempts++
		if item.attempts >= c.maxRetries {
			serviceLogger.Debug("giving up on aircraft after max retries", "icao24", item.icao24)
			c.markDone(item.icao24)
			continue
		}
		requeue = append(requeue, *item)
	}

	c.mu.Lock()
	c.queue = append(c.queue, requeue...)
	depth := len(c.queue)
	c.mu.Unlock()
	c.metrics.UpdateQueueDepth(depth)
}

// markDone removes an address from the queued set and remembers it in the
// processed cache.
func (c *Crawler) markDone(icao24 string) {
	c.processed.SetDefault(icao24, struct{}{})
	c.mu.Lock()
	delete(c.queued, icao24)
	c.mu.Unlock()
}

// processItem resolves one address. It reports true when the address is
// settled: metadata stored, already complete in the store, or definitively
// absent from every source. False means retry later.
func (c *Crawler) processItem(icao24 string) bool {
	existing, err := c.ds.GetAircraft(icao24)
	if err != nil {
		serviceLogger.Warn("aircraft lookup in store failed", "icao24", icao24, "error", err)
		return false
	}
	if existing != nil && existing.IsComplete() {
		return true
	}

	available := 0
	for _, src := range c.sources {
		if src.Accept(icao24) && c.backoffs[src.Name()].CanRetryNow() {
			available++
		}
	}
	if available == 0 && len(c.sources) > 0 {
		serviceLogger.Debug("no sources available, all in backoff", "icao24", icao24)
		return false
	}

	found, transient := c.querySources(icao24)
	if found == nil {
		if transient {
			return false
		}
		// No source knows this address; settle it so the cache suppresses
		// repeats until the TTL expires.
		return true
	}

	if existing != nil {
		if !existing.MergeFrom(found) {
			return true
		}
		found = existing
	}
	if err := c.ds.SaveAircraft(found); err != nil {
		serviceLogger.Warn("failed to store aircraft metadata", "icao24", icao24, "error", err)
		return false
	}
	serviceLogger.Info("aircraftEvent=metadata", "icao24", icao24, "registration", found.Registration, "source", found.Source)
	return true
}

// querySources asks each source in order, honoring per-source backoff. The
// second return reports whether any source failed transiently, meaning the
// address is worth retrying later.
func (c *Crawler) querySources(icao24 string) (*datastore.Aircraft, bool) {
	transient := false
	for _, src := range c.sources {
		if !src.Accept(icao24) {
			continue
		}
		backoff := c.backoffs[src.Name()]
		if !backoff.CanRetryNow() {
			serviceLogger.Debug("skipping source in backoff", "source", src.Name(), "icao24", icao24)
			continue
		}

		start := time.Now()
		aircraft, err := src.Lookup(icao24)
		c.metrics.RecordLookupDuration(src.Name(), time.Since(start).Seconds())

		switch {
		case err != nil && isRetryable(err):
			transient = true
			backoff.RecordFailure()
			c.metrics.RecordLookup(src.Name(), "error")
			c.metrics.RecordRetry(src.Name())
			c.metrics.UpdateBackoff(src.Name(), backoff.Delay().Seconds())
			serviceLogger.Warn("source failed, backing off", "source", src.Name(), "icao24", icao24,
				"delay", backoff.Delay(), "error", err)
		case err != nil:
			c.metrics.RecordLookup(src.Name(), "error")
			serviceLogger.Debug("non-retryable source error", "source", src.Name(), "icao24", icao24, "error", err)
		case aircraft != nil:
			if backoff.FailureCount() > 0 {
				serviceLogger.Info("source recovered, resetting backoff", "source", src.Name())
			}
			backoff.Reset()
			c.metrics.UpdateBackoff(src.Name(), 0)
			c.metrics.RecordLookup(src.Name(), "success")
			return aircraft, false
		default:
			backoff.Reset()
			c.metrics.RecordLookup(src.Name(), "not_found")
		}
	}
	return nil, transient
}
