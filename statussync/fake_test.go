package statussync

import (
	"context"
	"net/http"
	"sync"

	"wa-console/backend"
	"wa-console/types"
)

// fakeBackend is an in-memory platform backend
type fakeBackend struct {
	mutex sync.Mutex

	clients   map[string]types.ClientRecord
	status    types.Status
	statusErr error
	qr        types.QRResult
	// qrErrs are returned by successive QR calls before qr is
	qrErrs    []error
	toggleErr error

	// landingGate, when set, blocks Landing until it is closed
	landingGate  chan struct{}
	landingCalls int
	statusCalls  int
	qrCalls      int
	toggles      []types.ToggleAction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		clients: map[string]types.ClientRecord{
			"acme-law": {ID: "c1", Name: "Acme Law", UniqueURL: "acme-law"},
		},
		status: types.StatusConnecting,
		qr:     types.QRResult{QR: strPtr("QR-1")},
	}
}

func strPtr(s string) *string { return &s }

func instanceMissing() error {
	return &backend.Error{Kind: backend.KindInstanceNotReady, Op: "qr", StatusCode: http.StatusInternalServerError, Message: "instance does not exist"}
}

func (f *fakeBackend) Landing(_ context.Context, slug string) (types.ClientRecord, error) {
	f.mutex.Lock()
	f.landingCalls++
	gate := f.landingGate
	f.mutex.Unlock()
	if gate != nil {
		<-gate
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	rec, ok := f.clients[slug]
	if !ok {
		return types.ClientRecord{}, &backend.Error{Kind: backend.KindNotFound, Op: "landing", StatusCode: http.StatusNotFound}
	}
	return rec, nil
}

func (f *fakeBackend) Status(_ context.Context, _ string) (types.StatusResponse, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return types.StatusResponse{}, f.statusErr
	}
	return types.StatusResponse{Status: f.status}, nil
}

func (f *fakeBackend) QR(_ context.Context, _ string) (types.QRResult, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.qrCalls++
	if len(f.qrErrs) > 0 {
		err := f.qrErrs[0]
		f.qrErrs = f.qrErrs[1:]
		return types.QRResult{}, err
	}
	return f.qr, nil
}

func (f *fakeBackend) Toggle(_ context.Context, _ string, action types.ToggleAction) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.toggleErr != nil {
		return f.toggleErr
	}
	f.toggles = append(f.toggles, action)
	if action == types.ActionDisconnect {
		f.status = types.StatusClose
	}
	return nil
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	fn(f)
}

func (f *fakeBackend) counts() (landing, status, qr int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.landingCalls, f.statusCalls, f.qrCalls
}
