package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"wa-console/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer accepts one push connection and hands it to the test
type wsServer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	authSeen chan string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(chan *websocket.Conn, 1), authSeen: make(chan string, 1)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.authSeen <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) baseURL(t *testing.T) *url.URL {
	u, err := url.Parse(s.srv.URL)
	require.NoError(t, err)
	return u
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no push connection")
		return nil
	}
}

func TestURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8000":          "ws://localhost:8000/ws",
		"https://api.example.com/":       "wss://api.example.com/ws",
		"https://api.example.com/v1?x=1": "wss://api.example.com/v1/ws",
	}
	for in, want := range tests {
		u, err := url.Parse(in)
		require.NoError(t, err)
		got, err := URL(u)
		require.NoError(t, err)
		assert.Equal(t, want, got.String())
	}

	_, err := URL(&url.URL{Scheme: "ftp", Host: "x"})
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"clientId":"c1","connected":true,"phone":"5511","status":"open","qrCode":null}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", ev.ClientID)
	assert.Equal(t, types.StatusOpen, ev.Status)
	require.NotNil(t, ev.Connected)
	assert.True(t, *ev.Connected)
	assert.Nil(t, ev.QRCode)

	_, err = Decode([]byte(`{"status":"open"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestChannelDeliversInOrder(t *testing.T) {
	s := newWSServer(t)
	ch, err := Dial(context.Background(), s.baseURL(t), WithToken("secret"))
	require.NoError(t, err)
	defer ch.Close()
	assert.Equal(t, "Bearer secret", <-s.authSeen)
	server := s.accept(t)

	var mutex sync.Mutex
	var got []types.Status
	ch.Subscribe(func(ev types.PushEvent) {
		mutex.Lock()
		defer mutex.Unlock()
		got = append(got, ev.Status)
	})

	runErr := make(chan error, 1)
	go func() { runErr <- ch.Run(context.Background()) }()

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"clientId":"c1","status":"connecting","qrCode":"QR"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"clientId":"c1","status":"open","connected":true}`)))

	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	mutex.Lock()
	assert.Equal(t, []types.Status{types.StatusConnecting, types.StatusOpen}, got)
	mutex.Unlock()

	require.NoError(t, ch.Close())
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestChannelDropIsReported(t *testing.T) {
	s := newWSServer(t)
	ch, err := Dial(context.Background(), s.baseURL(t))
	require.NoError(t, err)
	defer ch.Close()
	server := s.accept(t)

	runErr := make(chan error, 1)
	go func() { runErr <- ch.Run(context.Background()) }()

	// abrupt close without a close frame
	server.UnderlyingConn().Close()

	select {
	case err := <-runErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after drop")
	}
}

func TestChannelStopsOnContext(t *testing.T) {
	s := newWSServer(t)
	ch, err := Dial(context.Background(), s.baseURL(t))
	require.NoError(t, err)
	s.accept(t)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- ch.Run(ctx) }()
	cancel()

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	_, err := Dial(context.Background(), u)
	assert.Error(t, err)
}
