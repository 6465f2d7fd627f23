// Package adminsync is the fleet-level view used by operators: the client
// list, debounced mutations, and secondary views polled while open.
package adminsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"wa-console/backend"
	"wa-console/cache"
	"wa-console/queue"
	"wa-console/statussync"
	"wa-console/types"
	"wa-console/utils"

	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultDebounce     = 300 * time.Millisecond
	DefaultNoticeTTL    = 3 * time.Second
	DefaultConcurrency  = 4
)

// ErrDebounced is returned when a repeated trigger was absorbed
var ErrDebounced = errors.New("duplicate action ignored")

// Backend is the part of the platform API the fleet view needs
type Backend interface {
	ListClients(ctx context.Context) ([]types.ClientRecord, error)
	GetClient(ctx context.Context, clientID string) (types.ClientRecord, error)
	CreateClient(ctx context.Context, form types.CreateClientForm) (types.ClientRecord, error)
	UpdateClient(ctx context.Context, clientID string, update types.ClientUpdate) (types.ClientRecord, error)
	DeleteClient(ctx context.Context, clientID string) error
	UpdateEmail(ctx context.Context, clientID, email string) error
	ResendEmail(ctx context.Context, clientID string) error
	Toggle(ctx context.Context, clientID string, action types.ToggleAction) error
	AdminStatus(ctx context.Context, clientID string) (types.StatusResponse, error)
	Chats(ctx context.Context, clientID string) ([]types.ChatMessage, error)
	Threads(ctx context.Context, clientID string) ([]types.Thread, error)
}

// Row is one client with its last known connection state
type Row struct {
	Client types.ClientRecord     `json:"client"`
	State  *types.ConnectionState `json:"state,omitempty"`
}

// Fleet holds the operator's view over all clients
type Fleet struct {
	backend       Backend
	logger        zerolog.Logger
	debouncer     *utils.Debouncer
	loading       *LoadingState
	notices       *Notices
	cache         *cache.Cache
	ownsCache     bool
	pool          *queue.WorkerPool
	pollInterval  time.Duration
	panelInterval time.Duration
	subscribe     statussync.Subscriber
	onChange      func()
	syncer        *statussync.Syncer

	mutex    sync.RWMutex
	clients  []types.ClientRecord
	states   map[string]types.ConnectionState
	listErr  string
	listedAt time.Time
	closed   bool

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

type fleetConfig struct {
	debounce      time.Duration
	noticeTTL     time.Duration
	concurrency   int
	pollInterval  time.Duration
	panelInterval time.Duration
	cache         *cache.Cache
	logger        zerolog.Logger
	subscribe     statussync.Subscriber
	onChange      func()
	syncer        *statussync.Syncer
}

// Option configures a Fleet
type Option func(*fleetConfig)

func WithDebounce(d time.Duration) Option {
	return func(c *fleetConfig) { c.debounce = d }
}

func WithNoticeTTL(d time.Duration) Option {
	return func(c *fleetConfig) { c.noticeTTL = d }
}

// WithConcurrency bounds parallel per-client status fetches
func WithConcurrency(n int) Option {
	return func(c *fleetConfig) { c.concurrency = n }
}

// WithPollInterval sets the fleet refresh period; zero disables polling
func WithPollInterval(d time.Duration) Option {
	return func(c *fleetConfig) { c.pollInterval = d }
}

// WithPanelInterval sets the secondary view refresh period
func WithPanelInterval(d time.Duration) Option {
	return func(c *fleetConfig) { c.panelInterval = d }
}

// WithCache shares a view cache; otherwise the fleet owns a private one
func WithCache(vc *cache.Cache) Option {
	return func(c *fleetConfig) { c.cache = vc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *fleetConfig) { c.logger = l }
}

// WithPushSource feeds push events into the fleet
func WithPushSource(s statussync.Subscriber) Option {
	return func(c *fleetConfig) { c.subscribe = s }
}

// WithOnChange is called after the list, a row, or the notices change
func WithOnChange(fn func()) Option {
	return func(c *fleetConfig) { c.onChange = fn }
}

// WithSyncer sets the syncer used for QR fetches. Without it the fleet builds
// one when the backend also serves the client endpoints.
func WithSyncer(s *statussync.Syncer) Option {
	return func(c *fleetConfig) { c.syncer = s }
}

// NewFleet creates an unstarted fleet view
func NewFleet(b Backend, opts ...Option) *Fleet {
	cfg := fleetConfig{
		debounce:      DefaultDebounce,
		noticeTTL:     DefaultNoticeTTL,
		concurrency:   DefaultConcurrency,
		pollInterval:  DefaultPollInterval,
		panelInterval: DefaultPanelInterval,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.syncer == nil {
		if sb, ok := b.(statussync.Backend); ok {
			cfg.syncer = statussync.New(sb, statussync.WithLogger(cfg.logger))
		}
	}
	f := &Fleet{
		backend:       b,
		logger:        cfg.logger,
		debouncer:     utils.NewDebouncer(cfg.debounce),
		loading:       newLoadingState(),
		notices:       NewNotices(cfg.noticeTTL),
		cache:         cfg.cache,
		pool:          queue.NewWorkerPool(cfg.concurrency),
		pollInterval:  cfg.pollInterval,
		panelInterval: cfg.panelInterval,
		subscribe:     cfg.subscribe,
		onChange:      cfg.onChange,
		syncer:        cfg.syncer,
		states:        make(map[string]types.ConnectionState),
		ctx:           context.Background(),
	}
	if f.cache == nil {
		f.cache = cache.NewCache(128)
		f.ownsCache = true
	}
	return f
}

// Start loads the list, sweeps statuses, subscribes to push events and
// starts the periodic refresh. A failed first load is returned; polling
// continues regardless.
func (f *Fleet) Start(ctx context.Context) error {
	f.mutex.Lock()
	if f.cancel != nil {
		f.mutex.Unlock()
		return errors.New("fleet already started")
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	runCtx := f.ctx
	f.mutex.Unlock()

	err := f.ListClients(runCtx)
	if err == nil {
		f.SweepStatuses(runCtx)
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.closed {
		return err
	}
	if f.subscribe != nil {
		f.unsubscribe = f.subscribe(f.HandlePush)
	}
	if f.pollInterval > 0 {
		f.wg.Add(1)
		go f.pollLoop(runCtx)
	}
	return err
}

func (f *Fleet) pollLoop(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := f.ListClients(ctx); err == nil {
				f.SweepStatuses(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ListClients reloads the client list
func (f *Fleet) ListClients(ctx context.Context) error {
	f.loading.Set("list", true)
	defer f.loading.Set("list", false)

	clients, err := f.backend.ListClients(ctx)

	f.mutex.Lock()
	if f.closed {
		f.mutex.Unlock()
		return nil
	}
	if err != nil {
		f.listErr = backend.UserMessage(err)
	} else {
		f.clients = clients
		f.listErr = ""
		f.listedAt = time.Now()
		known := make(map[string]bool, len(clients))
		for _, c := range clients {
			known[c.ID] = true
			if _, ok := f.states[c.ID]; !ok && c.Connected {
				f.states[c.ID] = types.ConnectionState{Status: types.StatusOpen, ConnectedPhone: utils.NormalizePhonePtr(c.ConnectedPhone)}.Normalize()
			}
		}
		for id := range f.states {
			if !known[id] {
				delete(f.states, id)
			}
		}
	}
	f.mutex.Unlock()

	if err != nil {
		f.logger.Warn().Err(err).Msg("client list refresh failed")
	}
	f.changed()
	return err
}

// SweepStatuses fetches every listed client's status in parallel. A slow or
// failing client never holds back the others.
func (f *Fleet) SweepStatuses(ctx context.Context) {
	f.mutex.RLock()
	ids := make([]string, 0, len(f.clients))
	for _, c := range f.clients {
		ids = append(ids, c.ID)
	}
	f.mutex.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		clientID := id
		wg.Add(1)
		err := f.pool.SubmitContext(ctx, func() {
			defer wg.Done()
			key := "status-" + clientID
			f.loading.Set(key, true)
			defer f.loading.Set(key, false)

			st, err := f.backend.AdminStatus(ctx, clientID)
			if err != nil {
				f.logger.Debug().Err(err).Str("client_id", clientID).Msg("status sweep failed")
				return
			}
			f.mutex.Lock()
			if !f.closed && f.hasClientLocked(clientID) {
				state := f.states[clientID]
				state.Status = st.Status
				f.states[clientID] = state.Normalize()
			}
			f.mutex.Unlock()
		})
		if err != nil {
			wg.Done()
			break
		}
	}
	wg.Wait()
	f.changed()
}

func (f *Fleet) hasClientLocked(id string) bool {
	for _, c := range f.clients {
		if c.ID == id {
			return true
		}
	}
	return false
}

// HandlePush applies a push event to the matching row; unknown clients are dropped
func (f *Fleet) HandlePush(ev types.PushEvent) {
	f.mutex.Lock()
	if f.closed || !f.hasClientLocked(ev.ClientID) {
		f.mutex.Unlock()
		return
	}
	next, applied := statussync.ApplyPushUpdate(f.states[ev.ClientID], ev.ClientID, ev)
	if applied {
		f.states[ev.ClientID] = next
		for i := range f.clients {
			if f.clients[i].ID == ev.ClientID {
				f.clients[i].Connected = next.Connected
				if next.ConnectedPhone != nil {
					f.clients[i].ConnectedPhone = next.ConnectedPhone
				}
			}
		}
	}
	f.mutex.Unlock()
	if applied {
		f.changed()
	}
}

// Clients returns the rows in backend order
func (f *Fleet) Clients() []Row {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	rows := make([]Row, 0, len(f.clients))
	for _, c := range f.clients {
		row := Row{Client: c}
		if st, ok := f.states[c.ID]; ok {
			s := st
			row.State = &s
		}
		rows = append(rows, row)
	}
	return rows
}

// Client returns one row by id
func (f *Fleet) Client(id string) (Row, bool) {
	for _, row := range f.Clients() {
		if row.Client.ID == id {
			return row, true
		}
	}
	return Row{}, false
}

// ListError is the message of the last failed list load
func (f *Fleet) ListError() string {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.listErr
}

// ListedAt is the time of the last successful list load
func (f *Fleet) ListedAt() time.Time {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.listedAt
}

// Loading exposes the loading gates
func (f *Fleet) Loading() *LoadingState { return f.loading }

// Notices exposes operator messages
func (f *Fleet) Notices() *Notices { return f.notices }

// Chats loads the chat transcript of a client once
func (f *Fleet) Chats(ctx context.Context, clientID string) ([]types.ChatMessage, error) {
	return f.backend.Chats(ctx, clientID)
}

// Threads loads the assistant threads of a client once. The backend's
// "no threads" answer is an empty table, not an error.
func (f *Fleet) Threads(ctx context.Context, clientID string) ([]types.Thread, error) {
	threads, err := f.backend.Threads(ctx, clientID)
	if err != nil && noThreads(err) {
		return []types.Thread{}, nil
	}
	return threads, err
}

// OpenChats opens the chat transcript of a client
func (f *Fleet) OpenChats(clientID string) *Panel[[]types.ChatMessage] {
	return openPanel(f.runContext(), "chats-"+clientID, f.panelInterval, f.cache, f.logger, f.onChange,
		func(ctx context.Context) ([]types.ChatMessage, error) {
			return f.Chats(ctx, clientID)
		})
}

// OpenThreads opens the assistant thread table of a client
func (f *Fleet) OpenThreads(clientID string) *Panel[[]types.Thread] {
	return openPanel(f.runContext(), "threads-"+clientID, f.panelInterval, f.cache, f.logger, f.onChange,
		func(ctx context.Context) ([]types.Thread, error) {
			return f.Threads(ctx, clientID)
		})
}

// QR fetches a client's pairing QR, with the same not-ready retry as the
// landing view, and folds it into the client's row.
func (f *Fleet) QR(ctx context.Context, clientID string) (types.QRResult, error) {
	if f.syncer == nil {
		return types.QRResult{}, errors.New("backend does not serve pairing QR codes")
	}
	key := opKey("qr", clientID)
	f.loading.Set(key, true)
	defer f.loading.Set(key, false)

	qr, err := f.syncer.FetchQR(ctx, clientID)
	if err != nil {
		return types.QRResult{}, fmt.Errorf("qr of client %s: %w", clientID, err)
	}

	f.mutex.Lock()
	if !f.closed && f.hasClientLocked(clientID) {
		state, known := f.states[clientID]
		if qr.State != nil {
			state.Status = *qr.State
		}
		if known || qr.State != nil {
			f.states[clientID] = statussync.MergeQR(state, qr, time.Now())
		}
	}
	f.mutex.Unlock()
	f.changed()
	return qr, nil
}

// OpenQR opens the pairing QR of a client. QR payloads expire, so this
// panel is never seeded from the view cache.
func (f *Fleet) OpenQR(clientID string) *Panel[types.QRResult] {
	return openPanel(f.runContext(), "qr-"+clientID, f.panelInterval, nil, f.logger, f.onChange,
		func(ctx context.Context) (types.QRResult, error) {
			return f.QR(ctx, clientID)
		})
}

// noThreads recognizes the backend's "No threads found" answer for an empty table
func noThreads(err error) bool {
	if backend.IsKind(err, backend.KindNotFound) {
		return true
	}
	var be *backend.Error
	return errors.As(err, &be) && strings.Contains(strings.ToLower(be.Message), "no threads found")
}

func (f *Fleet) runContext() context.Context {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.ctx
}

func (f *Fleet) changed() {
	if f.onChange != nil {
		f.onChange()
	}
}

// Close stops polling and push handling and drops pending notices
func (f *Fleet) Close() {
	f.mutex.Lock()
	if f.closed {
		f.mutex.Unlock()
		return
	}
	f.closed = true
	cancel := f.cancel
	unsubscribe := f.unsubscribe
	f.mutex.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
	f.pool.Wait()
	f.notices.stop()
	if f.ownsCache {
		f.cache.Stop()
	}
}

func opKey(op, id string) string {
	if id == "" {
		return op
	}
	return fmt.Sprintf("%s-%s", op, id)
}
