package statussync

import (
	"context"
	"sync"
	"testing"
	"time"

	"wa-console/queue"
	"wa-console/types"
	"wa-console/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushSource is a Subscriber backed by a real dispatcher
func pushSource(t *testing.T) (*queue.Dispatcher, Subscriber) {
	t.Helper()
	d := queue.NewDispatcher(16, nil)
	t.Cleanup(d.Stop)
	return d, d.Subscribe
}

// snapshots records every snapshot handed to onChange
type snapshots struct {
	mutex sync.Mutex
	all   []Snapshot
}

func (s *snapshots) record(snap Snapshot) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.all = append(s.all, snap)
}

func (s *snapshots) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.all)
}

func TestViewStartAndPush(t *testing.T) {
	fb := newFakeBackend()
	d, sub := pushSource(t)
	v := NewView(New(fb), "acme-law", WithPushSource(sub), WithPollInterval(0))
	defer v.Close()

	require.NoError(t, v.Start(context.Background()))
	snap := v.Snapshot()
	require.NotNil(t, snap.Client)
	assert.Equal(t, "QR-1", *snap.State.QRCode)

	d.Publish(types.PushEvent{ClientID: "other", Status: types.StatusOpen})
	d.Publish(types.PushEvent{ClientID: "c1", Status: types.StatusOpen, Phone: strPtr("5511")})

	require.Eventually(t, func() bool {
		return v.Snapshot().State.Connected
	}, time.Second, 5*time.Millisecond)
	snap = v.Snapshot()
	assert.Nil(t, snap.State.QRCode)
	assert.Equal(t, "5511", *snap.State.ConnectedPhone)
}

func TestViewPushQRClearsError(t *testing.T) {
	fb := newFakeBackend()
	d, sub := pushSource(t)
	v := NewView(New(fb), "acme-law", WithPushSource(sub), WithPollInterval(0))
	defer v.Close()
	require.NoError(t, v.Start(context.Background()))

	fb.set(func(f *fakeBackend) { f.statusErr = assert.AnError })
	assert.Error(t, v.Refresh(context.Background()))
	snap := v.Snapshot()
	assert.NotEmpty(t, snap.Error)
	assert.Equal(t, "QR-1", *snap.State.QRCode, "state survives a failed refresh")

	d.Publish(types.PushEvent{ClientID: "c1", Status: types.StatusConnecting, QRCode: strPtr("QR-2")})
	require.Eventually(t, func() bool {
		s := v.Snapshot()
		return s.Error == "" && s.State.QRCode != nil && *s.State.QRCode == "QR-2"
	}, time.Second, 5*time.Millisecond)
}

func TestViewPolls(t *testing.T) {
	fb := newFakeBackend()
	v := NewView(New(fb), "acme-law", WithPollInterval(10*time.Millisecond))
	defer v.Close()
	require.NoError(t, v.Start(context.Background()))

	fb.set(func(f *fakeBackend) { f.status = types.StatusOpen })
	require.Eventually(t, func() bool {
		return v.Snapshot().State.Status == types.StatusOpen
	}, time.Second, 5*time.Millisecond)
}

func TestViewCloseDiscardsLateResult(t *testing.T) {
	fb := newFakeBackend()
	gate := make(chan struct{})
	fb.landingGate = gate
	rec := &snapshots{}
	d, sub := pushSource(t)
	v := NewView(New(fb), "acme-law", WithPushSource(sub), WithOnChange(rec.record), WithPollInterval(10*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = v.Start(context.Background())
	}()
	require.Eventually(t, func() bool {
		landing, _, _ := fb.counts()
		return landing == 1
	}, time.Second, time.Millisecond)

	v.Close()
	before := rec.count()
	close(gate)
	<-done

	assert.Equal(t, before, rec.count(), "no update after close")
	assert.Nil(t, v.Snapshot().Client)

	// unsubscribed: pushes are not applied
	d.Publish(types.PushEvent{ClientID: "c1", Status: types.StatusOpen})
	time.Sleep(20 * time.Millisecond)
	assert.False(t, v.Snapshot().State.Connected)
	landing, _, _ := fb.counts()
	assert.Equal(t, 1, landing, "polling never started")
}

func TestViewRefetchesExpiredQR(t *testing.T) {
	fb := newFakeBackend()
	fb.qr = types.QRResult{QR: strPtr("QR-1"), TimeoutMS: 30}
	v := NewView(New(fb), "acme-law", WithPollInterval(0))
	defer v.Close()
	require.NoError(t, v.Start(context.Background()))

	fb.set(func(f *fakeBackend) { f.qr = types.QRResult{QR: strPtr("QR-2")} })
	require.Eventually(t, func() bool {
		s := v.Snapshot()
		return s.State.QRCode != nil && *s.State.QRCode == "QR-2"
	}, time.Second, 5*time.Millisecond)
}

func TestViewDisconnect(t *testing.T) {
	fb := newFakeBackend()
	fb.status = types.StatusOpen
	v := NewView(New(fb), "acme-law", WithPollInterval(0))
	defer v.Close()
	require.NoError(t, v.Start(context.Background()))
	require.True(t, v.Snapshot().State.Connected)

	err := v.Disconnect(context.Background(), utils.ConfirmFunc(func(string) bool { return false }))
	assert.ErrorIs(t, err, utils.ErrNotConfirmed)
	assert.True(t, v.Snapshot().State.Connected)

	require.NoError(t, v.Disconnect(context.Background(), utils.Confirmed))
	snap := v.Snapshot()
	assert.Equal(t, types.StatusClose, snap.State.Status)
	assert.Equal(t, "QR-1", *snap.State.QRCode)
}
