package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wa-console/types"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer starts a backend double with keep-alives disabled so that
// httptest can shut down cleanly
func newTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewUnstartedServer(h)
	srv.Config.SetKeepAlivesEnabled(false)
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func TestParseBaseURL(t *testing.T) {
	u, err := ParseBaseURL(" https://api.example.com/ ")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", u.String())

	_, err = ParseBaseURL("")
	assert.Error(t, err)
	_, err = ParseBaseURL("ftp://example.com")
	assert.Error(t, err)
	_, err = ParseBaseURL("http://")
	assert.Error(t, err)
}

func TestLandingSendsHeaders(t *testing.T) {
	r := chi.NewRouter()
	var gotAuth, gotRequestID string
	r.Get("/client/{slug}/landing", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		assert.Equal(t, "acme-law", chi.URLParam(r, "slug"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": "c1", "name": "Acme Law", "unique_url": "acme-law",
			"messageCount": 12, "pausedCount": 1, "globalPause": false,
		})
	})
	srv := newTestServer(t, r)
	c := newTestClient(t, srv, WithToken("secret"))

	rec, err := c.Landing(context.Background(), "acme-law")
	require.NoError(t, err)
	assert.Equal(t, "c1", rec.ID)
	assert.Equal(t, "Acme Law", rec.Name)
	assert.Equal(t, 12, rec.MessageCount)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Len(t, gotRequestID, 36)
}

func TestErrorResponsesAreClassified(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/client/{slug}/landing", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Client not found"})
	})
	r.Get("/client/{id}/qr", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "The \"instance\" does not exist"})
	})
	r.Get("/admin/chats/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Client is not active"})
	})
	srv := newTestServer(t, r)
	c := newTestClient(t, srv)

	_, err := c.Landing(context.Background(), "nobody")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = c.QR(context.Background(), "c1")
	require.Error(t, err)
	assert.True(t, IsInstanceNotReady(err))
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusInternalServerError, be.StatusCode)

	_, err = c.Chats(context.Background(), "c1")
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestQRBodyErrorIsFailure(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/client/{id}/qr", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"qr": nil, "error": "Instance c1 does not exist"})
	})
	srv := newTestServer(t, r)
	c := newTestClient(t, srv)

	_, err := c.QR(context.Background(), "c1")
	require.Error(t, err)
	assert.True(t, IsInstanceNotReady(err))
}

func TestQRSuccess(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/client/{id}/qr", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"qr": "data:image/png;base64,AAAA", "state": "connecting", "qr_timeout": 25000})
	})
	srv := newTestServer(t, r)
	c := newTestClient(t, srv)

	res, err := c.QR(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, res.QR)
	assert.Equal(t, "data:image/png;base64,AAAA", *res.QR)
	require.NotNil(t, res.State)
	assert.Equal(t, types.StatusConnecting, *res.State)
	assert.Equal(t, 25000, res.TimeoutMS)
}

func TestMutationsSendBodies(t *testing.T) {
	r := chi.NewRouter()
	var toggleBody, emailBody map[string]string
	var created types.CreateClientForm
	deleted := false
	r.Post("/admin/clients/{id}/toggle", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&toggleBody))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Put("/admin/clients/{id}/email", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&emailBody))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/admin/clients", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		writeJSON(w, http.StatusOK, map[string]string{"id": "new", "name": created.Name})
	})
	r.Delete("/admin/clients/{id}", func(w http.ResponseWriter, _ *http.Request) {
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	})
	srv := newTestServer(t, r)
	c := newTestClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.Toggle(ctx, "c1", types.ActionDisconnect))
	assert.Equal(t, "disconnect", toggleBody["action"])

	require.NoError(t, c.UpdateEmail(ctx, "c1", "ops@example.com"))
	assert.Equal(t, "ops@example.com", emailBody["new_email"])

	rec, err := c.CreateClient(ctx, types.CreateClientForm{Name: "Acme", Email: "a@b.co", APIKey: "sk-x", AssistantID: "asst_1"})
	require.NoError(t, err)
	assert.Equal(t, "new", rec.ID)
	assert.Equal(t, "asst_1", created.AssistantID)

	require.NoError(t, c.DeleteClient(ctx, "c1"))
	assert.True(t, deleted)
}

func TestNetworkErrorAndStats(t *testing.T) {
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	c := newTestClient(t, srv, WithTimeout(20*time.Millisecond))

	_, err := c.Status(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))

	snap := c.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Equal(t, int64(1), snap.Timeouts)
}

func TestLandingURL(t *testing.T) {
	assert.Equal(t, "https://wa.example.com/client/acme%20law", LandingURL("https://wa.example.com/", "acme law"))
}
