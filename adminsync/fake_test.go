package adminsync

import (
	"context"
	"net/http"
	"sync"

	"wa-console/backend"
	"wa-console/types"
)

// fakeBackend is an in-memory admin API
type fakeBackend struct {
	mutex sync.Mutex

	clients  []types.ClientRecord
	statuses map[string]types.Status
	chats    map[string][]types.ChatMessage
	threads  map[string][]types.Thread

	listErr    error
	actionErr  error
	threadsErr error

	// qrErrs are returned by successive QR calls before qr is served
	qrErrs []error
	qr     map[string]types.QRResult

	// statusDelay blocks AdminStatus for the listed ids
	statusDelay map[string]chan struct{}

	calls map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		clients: []types.ClientRecord{
			{ID: "c1", Name: "Acme Law", Email: "ops@acme.law", UniqueURL: "acme-law"},
			{ID: "c2", Name: "Bistro", Email: "hi@bistro.io", UniqueURL: "bistro"},
		},
		statuses:    map[string]types.Status{"c1": types.StatusOpen, "c2": types.StatusConnecting},
		chats:       map[string][]types.ChatMessage{},
		threads:     map[string][]types.Thread{},
		qr:          map[string]types.QRResult{},
		statusDelay: map[string]chan struct{}{},
		calls:       map[string]int{},
	}
}

func (f *fakeBackend) count(op string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) totalCalls() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	fn(f)
}

func (f *fakeBackend) hit(op string) {
	f.mutex.Lock()
	f.calls[op]++
	f.mutex.Unlock()
}

func (f *fakeBackend) ListClients(context.Context) ([]types.ClientRecord, error) {
	f.hit("list")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]types.ClientRecord(nil), f.clients...), nil
}

func (f *fakeBackend) GetClient(_ context.Context, id string) (types.ClientRecord, error) {
	f.hit("get")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, c := range f.clients {
		if c.ID == id {
			return c, nil
		}
	}
	return types.ClientRecord{}, &backend.Error{Kind: backend.KindNotFound, Op: "get_client", StatusCode: http.StatusNotFound}
}

func (f *fakeBackend) CreateClient(_ context.Context, form types.CreateClientForm) (types.ClientRecord, error) {
	f.hit("create")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.actionErr != nil {
		return types.ClientRecord{}, f.actionErr
	}
	rec := types.ClientRecord{ID: "c" + form.Name, Name: form.Name, Email: form.Email}
	f.clients = append(f.clients, rec)
	return rec, nil
}

func (f *fakeBackend) UpdateClient(_ context.Context, id string, update types.ClientUpdate) (types.ClientRecord, error) {
	f.hit("update")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.actionErr != nil {
		return types.ClientRecord{}, f.actionErr
	}
	for i := range f.clients {
		if f.clients[i].ID == id {
			if update.Name != nil {
				f.clients[i].Name = *update.Name
			}
			if update.Email != nil {
				f.clients[i].Email = *update.Email
			}
			return f.clients[i], nil
		}
	}
	return types.ClientRecord{}, &backend.Error{Kind: backend.KindNotFound, Op: "update_client", StatusCode: http.StatusNotFound}
}

func (f *fakeBackend) DeleteClient(_ context.Context, id string) error {
	f.hit("delete")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.actionErr != nil {
		return f.actionErr
	}
	kept := f.clients[:0]
	for _, c := range f.clients {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	f.clients = kept
	return nil
}

func (f *fakeBackend) UpdateEmail(_ context.Context, id, email string) error {
	f.hit("email")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.actionErr != nil {
		return f.actionErr
	}
	for i := range f.clients {
		if f.clients[i].ID == id {
			f.clients[i].Email = email
		}
	}
	return nil
}

func (f *fakeBackend) ResendEmail(context.Context, string) error {
	f.hit("resend")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.actionErr
}

func (f *fakeBackend) Toggle(_ context.Context, id string, action types.ToggleAction) error {
	f.hit("toggle")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.actionErr != nil {
		return f.actionErr
	}
	if action == types.ActionDisconnect {
		f.statuses[id] = types.StatusClose
	} else {
		f.statuses[id] = types.StatusConnecting
	}
	return nil
}

func (f *fakeBackend) AdminStatus(ctx context.Context, id string) (types.StatusResponse, error) {
	f.hit("status")
	f.mutex.Lock()
	gate := f.statusDelay[id]
	f.mutex.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return types.StatusResponse{}, ctx.Err()
		}
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return types.StatusResponse{Status: f.statuses[id]}, nil
}

func (f *fakeBackend) Chats(_ context.Context, id string) ([]types.ChatMessage, error) {
	f.hit("chats")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]types.ChatMessage(nil), f.chats[id]...), nil
}

func (f *fakeBackend) Threads(_ context.Context, id string) ([]types.Thread, error) {
	f.hit("threads")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.threadsErr != nil {
		return nil, f.threadsErr
	}
	return append([]types.Thread(nil), f.threads[id]...), nil
}

func (f *fakeBackend) Landing(_ context.Context, slug string) (types.ClientRecord, error) {
	f.hit("landing")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, c := range f.clients {
		if c.UniqueURL == slug {
			return c, nil
		}
	}
	return types.ClientRecord{}, &backend.Error{Kind: backend.KindNotFound, Op: "landing", StatusCode: http.StatusNotFound}
}

func (f *fakeBackend) Status(_ context.Context, id string) (types.StatusResponse, error) {
	f.hit("client_status")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return types.StatusResponse{Status: f.statuses[id]}, nil
}

func (f *fakeBackend) QR(_ context.Context, id string) (types.QRResult, error) {
	f.hit("qr")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.qrErrs) > 0 {
		err := f.qrErrs[0]
		f.qrErrs = f.qrErrs[1:]
		return types.QRResult{}, err
	}
	return f.qr[id], nil
}
