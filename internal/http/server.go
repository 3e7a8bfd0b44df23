package http

import (
	"container/list"
	"context"
	"net/http"
	"sync"
	"time"

	"tally/internal/alert"
	"tally/internal/analytics"
	"tally/internal/identity"
	"tally/internal/storage"
	"tally/internal/timewindow"
)

// LRU cache with TTL and size-based eviction. Report endpoints are pure
// reads over the ledger, so short-lived caching is safe; writes invalidate
// the owner's entries.
type lruCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List
}

type cacheItem[T any] struct {
	key       string
	data      T
	expiresAt time.Time
}

func newLRUCache[T any](maxSize int, ttl time.Duration) *lruCache[T] {
	return &lruCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

func (c *lruCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, exists := c.items[key]
	if !exists {
		return zero, false
	}

	item := elem.Value.(*cacheItem[T])
	if time.Now().After(item.expiresAt) {
		c.removeElement(elem)
		return zero, false
	}

	c.lru.MoveToFront(elem)
	return item.data, true
}

func (c *lruCache[T]) Set(key string, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := &cacheItem[T]{
		key:       key,
		data:      data,
		expiresAt: time.Now().Add(c.ttl),
	}

	if elem, exists := c.items[key]; exists {
		elem.Value = item
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(item)
	c.items[key] = elem

	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// DeletePrefix drops every entry whose key starts with prefix. Used to
// invalidate one owner's cached reports after a write.
func (c *lruCache[T]) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*cacheItem[T])
		if len(item.key) >= len(prefix) && item.key[:len(prefix)] == prefix {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.removeElement(elem)
	}
}

func (c *lruCache[T]) removeElement(elem *list.Element) {
	item := elem.Value.(*cacheItem[T])
	delete(c.items, item.key)
	c.lru.Remove(elem)
}

// CleanExpired removes all expired entries
func (c *lruCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*cacheItem[T])
		if now.After(item.expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.removeElement(elem)
	}
	return len(toRemove)
}

// Simple in-memory rate limiter
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for owner, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, owner)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(ownerID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[ownerID]

	if !exists {
		rl.clients[ownerID] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 120 requests per minute per owner
	client.requests++
	client.lastRequest = now

	return client.requests <= 120
}

type Server struct {
	http.Server

	store      storage.Ledger
	windows    *timewindow.Resolver
	aggregator *analytics.Aggregator
	calculator *analytics.Calculator
	comparator *analytics.Comparator
	detector   *analytics.Detector
	heatmap    *analytics.HeatmapBuilder

	// Optional: alerts for freshly detected anomalies.
	publisher *alert.Client

	rateLimiter *rateLimiter
	reportCache *lruCache[[]byte]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// Engine bundles the analytics entry points the server exposes.
type Engine struct {
	Aggregator *analytics.Aggregator
	Calculator *analytics.Calculator
	Comparator *analytics.Comparator
	Detector   *analytics.Detector
	Heatmap    *analytics.HeatmapBuilder
}

// NewServer configures routes, returning a ready-to-run http.Server.
// publisher may be nil; anomaly alerts are then skipped.
func NewServer(addr string, store storage.Ledger, windows *timewindow.Resolver, engine Engine, publisher *alert.Client) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:            store,
		windows:          windows,
		aggregator:       engine.Aggregator,
		calculator:       engine.Calculator,
		comparator:       engine.Comparator,
		detector:         engine.Detector,
		heatmap:          engine.Heatmap,
		publisher:        publisher,
		rateLimiter:      newRateLimiter(),
		reportCache:      newLRUCache[[]byte](200, time.Minute),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/cashflow", s.handleCashflow)
	api.HandleFunc("GET /api/spending/average", s.handleAverageSpending)
	api.HandleFunc("GET /api/spending/categories", s.handleSpendingByCategory)
	api.HandleFunc("GET /api/spending/days", s.handleSpendingByDay)
	api.HandleFunc("GET /api/spending/months", s.handleSpendingByMonth)
	api.HandleFunc("GET /api/saving-rate", s.handleSavingRate)
	api.HandleFunc("GET /api/cashflow/overtime", s.handleCashflowOvertime)
	api.HandleFunc("GET /api/budget/compare", s.handleBudgetCompare)
	api.HandleFunc("GET /api/anomalies", s.handleAnomalies)
	api.HandleFunc("GET /api/anomalies/report", s.handleAnomalyReport)
	api.HandleFunc("GET /api/heatmap", s.handleHeatmap)
	api.HandleFunc("GET /api/categories", s.handleCategories)
	api.HandleFunc("GET /api/transactions", s.handleListTransactions)
	api.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	api.HandleFunc("PUT /api/transactions/{id}", s.handleUpdateTransaction)
	api.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	api.HandleFunc("POST /api/budgets", s.handleCreateBudget)
	api.HandleFunc("PUT /api/opening-balance", s.handleSetOpeningBalance)

	mux.Handle("/api/", identity.Middleware(s.withRateLimit(api)))

	return s
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := identity.OwnerFromContext(r.Context())
		if err == nil && !s.rateLimiter.allow(owner) {
			writeError(w, r, errTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportCache.CleanExpired()
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			close(s.stopCacheCleanup)
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}
