package statussync

import (
	"context"
	"errors"
	"sync"
	"time"

	"wa-console/backend"
	"wa-console/queue"
	"wa-console/types"
	"wa-console/utils"

	"github.com/rs/zerolog"
)

// DefaultPollInterval is the periodic refetch period of a mounted view
const DefaultPollInterval = 30 * time.Second

// Subscriber registers a push handler and returns its unsubscribe function
type Subscriber func(queue.Handler) func()

// Snapshot is a copy of a view's state
type Snapshot struct {
	Client    *types.ClientRecord   `json:"client,omitempty"`
	State     types.ConnectionState `json:"state"`
	Error     string                `json:"error,omitempty"`
	ErrorKind string                `json:"errorKind,omitempty"`
	Loading   bool                  `json:"loading"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// View is the state of one client's pairing page. It lives from Start to
// Close; results arriving after Close are discarded.
type View struct {
	syncer       *Syncer
	slug         string
	pollInterval time.Duration
	subscribe    Subscriber
	onChange     func(Snapshot)
	logger       zerolog.Logger

	mutex     sync.RWMutex
	record    *types.ClientRecord
	state     types.ConnectionState
	errMsg    string
	errKind   string
	loading   bool
	updatedAt time.Time
	closed    bool
	qrTimer   *time.Timer

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// ViewOption configures a View
type ViewOption func(*View)

// WithPollInterval overrides DefaultPollInterval; zero disables polling
func WithPollInterval(d time.Duration) ViewOption {
	return func(v *View) { v.pollInterval = d }
}

// WithPushSource feeds push events into the view
func WithPushSource(s Subscriber) ViewOption {
	return func(v *View) { v.subscribe = s }
}

// WithOnChange is called with a fresh snapshot after every state change
func WithOnChange(fn func(Snapshot)) ViewOption {
	return func(v *View) { v.onChange = fn }
}

// WithViewLogger sets the view logger
func WithViewLogger(l zerolog.Logger) ViewOption {
	return func(v *View) { v.logger = l }
}

// NewView creates an unstarted view for the client behind slug
func NewView(s *Syncer, slug string, opts ...ViewOption) *View {
	v := &View{
		syncer:       s,
		slug:         slug,
		pollInterval: DefaultPollInterval,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Start loads the initial state, subscribes to push events and starts
// polling. An initial load failure is returned but the view keeps running so
// the next poll or a manual Refresh can recover.
func (v *View) Start(ctx context.Context) error {
	v.mutex.Lock()
	if v.ctx != nil {
		v.mutex.Unlock()
		return errors.New("view already started")
	}
	v.ctx, v.cancel = context.WithCancel(ctx)
	v.mutex.Unlock()

	err := v.Refresh(v.ctx)

	v.mutex.Lock()
	defer v.mutex.Unlock()
	if v.closed {
		return err
	}
	if v.subscribe != nil {
		v.unsubscribe = v.subscribe(v.HandlePush)
	}
	if v.pollInterval > 0 {
		v.wg.Add(1)
		go v.pollLoop()
	}
	return err
}

func (v *View) pollLoop() {
	defer v.wg.Done()
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := v.Refresh(v.ctx); err != nil {
				v.logger.Debug().Err(err).Str("slug", v.slug).Msg("poll failed")
			}
		case <-v.ctx.Done():
			return
		}
	}
}

// Refresh performs a full fetch. On failure the previous state is kept and
// only the error message changes.
func (v *View) Refresh(ctx context.Context) error {
	if !v.setLoading(true) {
		return nil
	}
	rec, state, err := v.syncer.FetchState(ctx, v.slug)

	v.mutex.Lock()
	if v.closed {
		v.mutex.Unlock()
		return nil
	}
	v.loading = false
	if err != nil {
		v.errMsg = backend.UserMessage(err)
		v.errKind = backend.KindOf(err).String()
	} else {
		v.record = &rec
		v.state = state
		v.errMsg = ""
		v.errKind = ""
		v.scheduleQRRefreshLocked()
	}
	v.updatedAt = time.Now()
	snap := v.snapshotLocked()
	v.mutex.Unlock()

	if err != nil {
		v.logger.Warn().Err(err).Str("slug", v.slug).Msg("status refresh failed")
	}
	v.notify(snap)
	return err
}

func (v *View) setLoading(loading bool) bool {
	v.mutex.Lock()
	if v.closed {
		v.mutex.Unlock()
		return false
	}
	v.loading = loading
	snap := v.snapshotLocked()
	v.mutex.Unlock()
	v.notify(snap)
	return true
}

// scheduleQRRefreshLocked refetches the QR once its validity window ends
func (v *View) scheduleQRRefreshLocked() {
	if v.qrTimer != nil {
		v.qrTimer.Stop()
		v.qrTimer = nil
	}
	if v.state.QRExpiresAt == nil || v.state.Status == types.StatusOpen || v.record == nil {
		return
	}
	clientID := v.record.ID
	wait := time.Until(*v.state.QRExpiresAt)
	if wait < 0 {
		wait = 0
	}
	v.qrTimer = time.AfterFunc(wait, func() { v.refreshQR(clientID) })
}

func (v *View) refreshQR(clientID string) {
	v.mutex.RLock()
	ctx := v.ctx
	v.mutex.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	qr, err := v.syncer.FetchQR(ctx, clientID)

	v.mutex.Lock()
	if v.closed || v.record == nil || v.record.ID != clientID || v.state.Status == types.StatusOpen {
		v.mutex.Unlock()
		return
	}
	if err != nil {
		v.errMsg = backend.UserMessage(err)
		v.errKind = backend.KindOf(err).String()
	} else {
		v.state = MergeQR(v.state, qr, time.Now())
		v.errMsg = ""
		v.errKind = ""
		v.scheduleQRRefreshLocked()
	}
	v.updatedAt = time.Now()
	snap := v.snapshotLocked()
	v.mutex.Unlock()
	v.notify(snap)
}

// HandlePush applies a push event addressed to this view's client
func (v *View) HandlePush(ev types.PushEvent) {
	v.mutex.Lock()
	if v.closed || v.record == nil {
		v.mutex.Unlock()
		return
	}
	next, applied := ApplyPushUpdate(v.state, v.record.ID, ev)
	if !applied {
		v.mutex.Unlock()
		return
	}
	v.state = next
	if ev.QRCode != nil && *ev.QRCode != "" {
		v.errMsg = ""
		v.errKind = ""
	}
	if next.Status == types.StatusOpen && v.qrTimer != nil {
		v.qrTimer.Stop()
		v.qrTimer = nil
	}
	v.updatedAt = time.Now()
	snap := v.snapshotLocked()
	v.mutex.Unlock()
	v.notify(snap)
}

// Disconnect logs the paired device out after confirmation and then
// resynchronizes the whole view.
func (v *View) Disconnect(ctx context.Context, confirm utils.Confirmer) error {
	v.mutex.RLock()
	rec := v.record
	v.mutex.RUnlock()
	if rec == nil {
		return errors.New("client not loaded")
	}
	if err := v.syncer.Disconnect(ctx, rec.ID, confirm); err != nil {
		if !errors.Is(err, utils.ErrNotConfirmed) {
			v.mutex.Lock()
			if !v.closed {
				v.errMsg = backend.UserMessage(err)
				v.errKind = backend.KindOf(err).String()
			}
			snap := v.snapshotLocked()
			v.mutex.Unlock()
			v.notify(snap)
		}
		return err
	}
	return v.Refresh(ctx)
}

// Snapshot returns a copy of the current state
func (v *View) Snapshot() Snapshot {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:     v.state,
		Error:     v.errMsg,
		ErrorKind: v.errKind,
		Loading:   v.loading,
		UpdatedAt: v.updatedAt,
	}
	if v.record != nil {
		rec := *v.record
		snap.Client = &rec
	}
	return snap
}

func (v *View) notify(snap Snapshot) {
	if v.onChange != nil {
		v.onChange(snap)
	}
}

// Close stops polling, unsubscribes and discards any late result
func (v *View) Close() {
	v.mutex.Lock()
	if v.closed {
		v.mutex.Unlock()
		return
	}
	v.closed = true
	if v.qrTimer != nil {
		v.qrTimer.Stop()
		v.qrTimer = nil
	}
	cancel := v.cancel
	unsubscribe := v.unsubscribe
	v.mutex.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	v.wg.Wait()
}
