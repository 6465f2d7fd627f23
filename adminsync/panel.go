package adminsync

import (
	"context"
	"sync"
	"time"

	"wa-console/backend"
	"wa-console/cache"

	"github.com/rs/zerolog"
)

// DefaultPanelInterval is how often an open secondary view reloads
const DefaultPanelInterval = 5 * time.Second

// Panel is an open secondary view (chat transcript, thread table, pairing
// QR) that polls only while open.
type Panel[T any] struct {
	key      string
	load     func(context.Context) (T, error)
	cache    *cache.Cache
	interval time.Duration
	onChange func()
	logger   zerolog.Logger

	mutex     sync.RWMutex
	data      T
	hasData   bool
	errMsg    string
	loading   bool
	updatedAt time.Time
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func openPanel[T any](parent context.Context, key string, interval time.Duration, c *cache.Cache, logger zerolog.Logger, onChange func(), load func(context.Context) (T, error)) *Panel[T] {
	ctx, cancel := context.WithCancel(parent)
	p := &Panel[T]{
		key:      key,
		load:     load,
		cache:    c,
		interval: interval,
		onChange: onChange,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if c != nil {
		if cached, ok := c.Get(key); ok {
			if data, ok := cached.(T); ok {
				p.data = data
				p.hasData = true
			}
		}
	}
	go p.run()
	return p
}

func (p *Panel[T]) run() {
	defer close(p.done)
	p.Refresh(p.ctx)
	if p.interval <= 0 {
		<-p.ctx.Done()
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Refresh(p.ctx)
		case <-p.ctx.Done():
			return
		}
	}
}

// Refresh reloads the panel now
func (p *Panel[T]) Refresh(ctx context.Context) {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.loading = true
	p.mutex.Unlock()

	data, err := p.load(ctx)

	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.loading = false
	if err != nil {
		p.errMsg = backend.UserMessage(err)
		p.logger.Debug().Err(err).Str("panel", p.key).Msg("panel load failed")
	} else {
		p.data = data
		p.hasData = true
		p.errMsg = ""
		p.updatedAt = time.Now()
		if p.cache != nil {
			p.cache.Set(p.key, data, cache.DefaultTTL)
		}
	}
	p.mutex.Unlock()
	if p.onChange != nil {
		p.onChange()
	}
}

// Data returns the last loaded value and whether anything was loaded yet
func (p *Panel[T]) Data() (T, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.data, p.hasData
}

// Err returns the message of the last failed load
func (p *Panel[T]) Err() string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.errMsg
}

// Loading reports an in-flight load
func (p *Panel[T]) Loading() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.loading
}

// UpdatedAt is the time of the last successful load
func (p *Panel[T]) UpdatedAt() time.Time {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.updatedAt
}

// Close stops polling immediately
func (p *Panel[T]) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true
	p.mutex.Unlock()
	p.cancel()
	<-p.done
}
