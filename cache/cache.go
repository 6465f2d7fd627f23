// Package cache keeps the last loaded secondary views (chat transcripts,
// thread tables) so a reopened panel renders before its first poll returns.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultTTL = 10 * time.Minute

type entry struct {
	key      string
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
}

// Cache is an LRU with per-entry TTL
type Cache struct {
	items      map[string]*list.Element
	evictList  *list.List
	mutex      sync.Mutex
	capacity   int
	ctx        context.Context
	cancel     context.CancelFunc
	cleanupTTL time.Duration
}

var (
	hits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_console_view_cache_hits_total",
		Help: "Total number of view cache hits",
	})
	misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_console_view_cache_misses_total",
		Help: "Total number of view cache misses",
	})
	size = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_console_view_cache_size",
		Help: "Current number of cached views",
	})
)

// NewCache creates a cache and starts its expiry sweeper; call Stop to end it
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
		capacity:   capacity,
		ctx:        ctx,
		cancel:     cancel,
		cleanupTTL: time.Minute,
	}
	go c.startCleanup()
	return c
}

func (c *Cache) Get(key string) (interface{}, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if element, exists := c.items[key]; exists {
		e := element.Value.(*entry)
		if e.ttl > 0 && time.Since(e.storedAt) > e.ttl {
			c.evictElement(element)
			misses.Inc()
			return nil, false
		}
		c.evictList.MoveToFront(element)
		hits.Inc()
		return e.value, true
	}

	misses.Inc()
	return nil, false
}

func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if element, exists := c.items[key]; exists {
		c.evictList.MoveToFront(element)
		e := element.Value.(*entry)
		e.value = value
		e.storedAt = time.Now()
		e.ttl = ttl
		return
	}

	element := c.evictList.PushFront(&entry{
		key:      key,
		value:    value,
		storedAt: time.Now(),
		ttl:      ttl,
	})
	c.items[key] = element
	size.Inc()

	if c.evictList.Len() > c.capacity {
		if oldest := c.evictList.Back(); oldest != nil {
			c.evictElement(oldest)
		}
	}
}

// Delete removes key if present
func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if element, exists := c.items[key]; exists {
		c.evictElement(element)
	}
}

// DeleteSuffix drops every key ending in suffix, used when a client is removed
func (c *Cache) DeleteSuffix(suffix string) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	removed := 0
	for key, element := range c.items {
		if strings.HasSuffix(key, suffix) {
			c.evictElement(element)
			removed++
		}
	}
	return removed
}

func (c *Cache) evictElement(element *list.Element) {
	c.evictList.Remove(element)
	delete(c.items, element.Value.(*entry).key)
	size.Dec()
}

func (c *Cache) Stop() {
	c.cancel()
}

func (c *Cache) startCleanup() {
	ticker := time.NewTicker(c.cleanupTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Cache) cleanupExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	for _, element := range c.items {
		e := element.Value.(*entry)
		if e.ttl > 0 && now.Sub(e.storedAt) > e.ttl {
			c.evictElement(element)
		}
	}
}

func (c *Cache) Size() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.evictList.Len()
}
