package adminsync

import (
	"context"
	"net/http"
	"testing"
	"time"

	"wa-console/backend"
	"wa-console/cache"
	"wa-console/statussync"
	"wa-console/types"
	"wa-console/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPanelPollsOnlyWhileOpen(t *testing.T) {
	fb := newFakeBackend()
	fb.chats["c1"] = []types.ChatMessage{{ID: "m1", Message: "hello"}}
	f := newTestFleet(t, fb, WithPanelInterval(10*time.Millisecond))

	panel := f.OpenChats("c1")
	require.Eventually(t, func() bool {
		return fb.count("chats") >= 3
	}, time.Second, 5*time.Millisecond)

	data, ok := panel.Data()
	require.True(t, ok)
	assert.Equal(t, "hello", data[0].Message)
	assert.False(t, panel.UpdatedAt().IsZero())

	panel.Close()
	stopped := fb.count("chats")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, fb.count("chats"))
	panel.Close()
}

func TestPanelSeedsFromCache(t *testing.T) {
	fb := newFakeBackend()
	fb.chats["c1"] = []types.ChatMessage{{ID: "m1"}}
	vc := cache.NewCache(8)
	defer vc.Stop()
	f := newTestFleet(t, fb, WithCache(vc))

	first := f.OpenChats("c1")
	require.Eventually(t, func() bool {
		_, ok := first.Data()
		return ok
	}, time.Second, 5*time.Millisecond)
	first.Close()

	second := f.OpenChats("c1")
	defer second.Close()
	data, ok := second.Data()
	require.True(t, ok, "reopened panel renders cached data at once")
	assert.Len(t, data, 1)
}

func TestThreadsPanelTreatsNoThreadsAsEmpty(t *testing.T) {
	fb := newFakeBackend()
	fb.threadsErr = &backend.Error{Kind: backend.KindServer, Op: "threads", StatusCode: http.StatusInternalServerError, Message: "No threads found for this client"}
	f := newTestFleet(t, fb)

	threads, err := f.Threads(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, threads)

	panel := f.OpenThreads("c1")
	defer panel.Close()
	require.Eventually(t, func() bool {
		_, ok := panel.Data()
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, panel.Err())
}

func TestPanelKeepsDataOnError(t *testing.T) {
	fb := newFakeBackend()
	fb.threads["c1"] = []types.Thread{{ThreadID: "thread_1"}}
	f := newTestFleet(t, fb)

	panel := f.OpenThreads("c1")
	defer panel.Close()
	require.Eventually(t, func() bool {
		_, ok := panel.Data()
		return ok
	}, time.Second, 5*time.Millisecond)

	fb.set(func(f *fakeBackend) {
		f.threadsErr = &backend.Error{Kind: backend.KindUnauthorized, Op: "threads", StatusCode: http.StatusForbidden}
	})
	panel.Refresh(context.Background())
	assert.Equal(t, "Unauthorized. Please contact the administrator.", panel.Err())
	data, ok := panel.Data()
	require.True(t, ok)
	assert.Equal(t, "thread_1", data[0].ThreadID)
}

func TestQRPanelRetriesUntilInstanceIsReady(t *testing.T) {
	fb := newFakeBackend()
	notReady := &backend.Error{Kind: backend.KindInstanceNotReady, Op: "qr", StatusCode: http.StatusInternalServerError, Message: "instance does not exist"}
	fb.qrErrs = []error{notReady, notReady}
	fb.qr["c2"] = types.QRResult{QR: strPtr("data:image/png;base64,AAAA"), TimeoutMS: 25000}
	syncer := statussync.New(fb, statussync.WithRetryConfig(&utils.RetryConfig{InitialInterval: time.Millisecond, MaxAttempts: 3}))
	f := newTestFleet(t, fb, WithSyncer(syncer))
	require.NoError(t, f.Start(context.Background()))

	panel := f.OpenQR("c2")
	defer panel.Close()
	require.Eventually(t, func() bool {
		_, ok := panel.Data()
		return ok
	}, time.Second, 5*time.Millisecond)

	qr, _ := panel.Data()
	assert.Equal(t, "data:image/png;base64,AAAA", *qr.QR)
	assert.Equal(t, 3, fb.count("qr"))
	assert.Empty(t, panel.Err())

	state := stateOf(t, f, "c2")
	require.NotNil(t, state)
	assert.True(t, state.HasQR(), "the row shows the fetched QR")
	assert.Equal(t, types.StatusConnecting, state.Status)
	assert.NotNil(t, state.QRExpiresAt)
}

func TestQRPanelGivesUpAfterThreeAttempts(t *testing.T) {
	fb := newFakeBackend()
	notReady := &backend.Error{Kind: backend.KindInstanceNotReady, Op: "qr", StatusCode: http.StatusInternalServerError, Message: "instance does not exist"}
	fb.qrErrs = []error{notReady, notReady, notReady, notReady}
	syncer := statussync.New(fb, statussync.WithRetryConfig(&utils.RetryConfig{InitialInterval: time.Millisecond, MaxAttempts: 3}))
	f := newTestFleet(t, fb, WithSyncer(syncer))

	_, err := f.QR(context.Background(), "c2")
	require.Error(t, err)
	assert.True(t, backend.IsInstanceNotReady(err))
	assert.Equal(t, 3, fb.count("qr"))
}

func TestQROpenStateWins(t *testing.T) {
	fb := newFakeBackend()
	open := types.StatusOpen
	fb.qr["c2"] = types.QRResult{QR: strPtr("stale"), State: &open, ConnectedPhone: strPtr("5511999999999@s.whatsapp.net")}
	f := newTestFleet(t, fb)
	require.NoError(t, f.ListClients(context.Background()))

	_, err := f.QR(context.Background(), "c2")
	require.NoError(t, err)
	state := stateOf(t, f, "c2")
	require.NotNil(t, state)
	assert.Equal(t, types.StatusOpen, state.Status)
	assert.Nil(t, state.QRCode)
	assert.Equal(t, "5511999999999", *state.ConnectedPhone)
}

func TestNoticesStopDropsTimers(t *testing.T) {
	n := NewNotices(10 * time.Millisecond)
	n.Success("done")
	n.stop()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, n.List(), 1, "stopped notices no longer auto-dismiss")
	n.Error("late")
	assert.Len(t, n.List(), 1)
}

func TestValidateCreateForm(t *testing.T) {
	assert.NoError(t, ValidateCreateForm(validForm()))
	assert.Error(t, ValidateEmail("a@b"))
	assert.Error(t, ValidateEmail("a b@c.de"))
	assert.NoError(t, ValidateEmail(" a@b.de "))
}
