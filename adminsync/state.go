package adminsync

import (
	"sort"
	"sync"
	"time"
)

// LoadingState gates controls while an operation runs. Keys are "op" or "op-id".
type LoadingState struct {
	mutex sync.RWMutex
	keys  map[string]bool
}

func newLoadingState() *LoadingState {
	return &LoadingState{keys: make(map[string]bool)}
}

func (l *LoadingState) Set(key string, on bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if on {
		l.keys[key] = true
		return
	}
	delete(l.keys, key)
}

func (l *LoadingState) Is(key string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.keys[key]
}

// Snapshot returns the keys currently loading
func (l *LoadingState) Snapshot() map[string]bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	out := make(map[string]bool, len(l.keys))
	for k, v := range l.keys {
		out[k] = v
	}
	return out
}

// NoticeLevel distinguishes transient confirmations from persistent errors
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a message surfaced to the operator
type Notice struct {
	ID        int64       `json:"id"`
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Notices holds operator messages. Success notices dismiss themselves after
// the configured delay; errors stay until dismissed.
type Notices struct {
	mutex        sync.Mutex
	items        map[int64]Notice
	timers       map[int64]*time.Timer
	nextID       int64
	dismissAfter time.Duration
	stopped      bool
}

// NewNotices creates an empty notice list; success notices dismiss after dismissAfter
func NewNotices(dismissAfter time.Duration) *Notices {
	return &Notices{
		items:        make(map[int64]Notice),
		timers:       make(map[int64]*time.Timer),
		dismissAfter: dismissAfter,
	}
}

func (n *Notices) add(level NoticeLevel, msg string) Notice {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.nextID++
	notice := Notice{ID: n.nextID, Level: level, Message: msg, CreatedAt: time.Now()}
	if n.stopped {
		return notice
	}
	n.items[notice.ID] = notice
	if level == NoticeSuccess && n.dismissAfter > 0 {
		id := notice.ID
		n.timers[id] = time.AfterFunc(n.dismissAfter, func() { n.Dismiss(id) })
	}
	return notice
}

// Success posts a transient notice
func (n *Notices) Success(msg string) Notice { return n.add(NoticeSuccess, msg) }

// Error posts a persistent notice
func (n *Notices) Error(msg string) Notice { return n.add(NoticeError, msg) }

// Dismiss removes a notice
func (n *Notices) Dismiss(id int64) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	delete(n.items, id)
	if t, ok := n.timers[id]; ok {
		t.Stop()
		delete(n.timers, id)
	}
}

// List returns notices oldest first
func (n *Notices) List() []Notice {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	out := make([]Notice, 0, len(n.items))
	for _, item := range n.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (n *Notices) stop() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.stopped = true
	for id, t := range n.timers {
		t.Stop()
		delete(n.timers, id)
	}
}
