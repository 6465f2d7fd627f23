// Package statussync keeps one client's WhatsApp connection state in line
// with the backend across initial load, periodic polling and push updates.
package statussync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wa-console/backend"
	"wa-console/types"
	"wa-console/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Backend is the part of the platform API a status view needs
type Backend interface {
	Landing(ctx context.Context, slug string) (types.ClientRecord, error)
	Status(ctx context.Context, clientID string) (types.StatusResponse, error)
	QR(ctx context.Context, clientID string) (types.QRResult, error)
	Toggle(ctx context.Context, clientID string, action types.ToggleAction) error
}

// Syncer performs the fetch, retry and merge steps shared by all views
type Syncer struct {
	backend    Backend
	retry      *utils.RetryConfig
	logger     zerolog.Logger
	now        func() time.Time
	qrAttempts prometheus.Counter
	qrRetries  prometheus.Counter
}

// Option configures a Syncer
type Option func(*Syncer)

// WithRetryConfig overrides the instance-not-ready retry policy
func WithRetryConfig(cfg *utils.RetryConfig) Option {
	return func(s *Syncer) { s.retry = cfg }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithRegisterer exposes QR retry metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Syncer) { s.registerMetrics(reg) }
}

// New creates a Syncer over b
func New(b Backend, opts ...Option) *Syncer {
	s := &Syncer{
		backend: b,
		retry:   utils.InstanceRetryConfig(),
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.qrAttempts == nil {
		s.registerMetrics(prometheus.NewRegistry())
	}
	return s
}

func (s *Syncer) registerMetrics(reg prometheus.Registerer) {
	factory := promauto.With(reg)
	s.qrAttempts = factory.NewCounter(prometheus.CounterOpts{
		Name: "wa_console_qr_attempts_total",
		Help: "QR fetch attempts including retries",
	})
	s.qrRetries = factory.NewCounter(prometheus.CounterOpts{
		Name: "wa_console_qr_retries_total",
		Help: "QR fetch retries caused by a not yet provisioned instance",
	})
}

// FetchState resolves slug, reads the connection status and, unless the
// channel is open, the pairing QR. Nothing is returned unless every step
// succeeds.
func (s *Syncer) FetchState(ctx context.Context, slug string) (types.ClientRecord, types.ConnectionState, error) {
	slug = strings.TrimSpace(slug)
	rec, err := s.backend.Landing(ctx, slug)
	if err != nil {
		return types.ClientRecord{}, types.ConnectionState{}, fmt.Errorf("resolve client %q: %w", slug, err)
	}

	st, err := s.backend.Status(ctx, rec.ID)
	if err != nil {
		return types.ClientRecord{}, types.ConnectionState{}, fmt.Errorf("status of client %s: %w", rec.ID, err)
	}

	state := types.ConnectionState{
		Status:         st.Status.Normalize(),
		ConnectedPhone: utils.NormalizePhonePtr(rec.ConnectedPhone),
	}
	if state.Status != types.StatusOpen {
		qr, err := s.FetchQR(ctx, rec.ID)
		if err != nil {
			return types.ClientRecord{}, types.ConnectionState{}, fmt.Errorf("qr of client %s: %w", rec.ID, err)
		}
		state = MergeQR(state, qr, s.now())
	}
	return rec, state.Normalize(), nil
}

// FetchQR fetches the pairing QR, retrying only while the backend reports
// that the client's instance does not exist yet.
func (s *Syncer) FetchQR(ctx context.Context, clientID string) (types.QRResult, error) {
	var result types.QRResult
	attempt := 0
	err := utils.WithRetryNotify(ctx, func() error {
		attempt++
		s.qrAttempts.Inc()
		qr, err := s.backend.QR(ctx, clientID)
		if err != nil {
			return err
		}
		result = qr
		return nil
	}, s.retry, backend.IsInstanceNotReady, func(err error, wait time.Duration) {
		s.qrRetries.Inc()
		s.logger.Info().
			Str("client_id", clientID).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("instance not ready, retrying qr fetch")
	})
	if err != nil {
		return types.QRResult{}, err
	}
	return result, nil
}

// MergeQR folds a QR result into state. A result reporting an open channel
// wins over the QR payload.
func MergeQR(state types.ConnectionState, qr types.QRResult, now time.Time) types.ConnectionState {
	if qr.State != nil && qr.State.Normalize() == types.StatusOpen {
		state.Status = types.StatusOpen
	}
	if phone := utils.NormalizePhonePtr(qr.ConnectedPhone); phone != nil {
		state.ConnectedPhone = phone
	}
	if qr.QR != nil && *qr.QR != "" {
		code := *qr.QR
		state.QRCode = &code
		state.QRExpiresAt = nil
		if qr.TimeoutMS > 0 {
			expires := now.Add(time.Duration(qr.TimeoutMS) * time.Millisecond)
			state.QRExpiresAt = &expires
		}
	}
	return state.Normalize()
}

// ApplyPushUpdate merges ev into state when it targets currentClientID. The
// second result is false when the event was ignored.
func ApplyPushUpdate(state types.ConnectionState, currentClientID string, ev types.PushEvent) (types.ConnectionState, bool) {
	if currentClientID == "" || ev.ClientID != currentClientID {
		return state, false
	}
	next := state
	if ev.Status != "" {
		next.Status = ev.Status.Normalize()
	}
	if phone := utils.NormalizePhonePtr(ev.Phone); phone != nil {
		next.ConnectedPhone = phone
	}
	if ev.QRCode != nil && *ev.QRCode != "" {
		code := *ev.QRCode
		next.QRCode = &code
		next.QRExpiresAt = nil
	}
	return next.Normalize(), true
}

// Disconnect revokes the paired device of clientID after explicit
// confirmation. Without it no request is sent.
func (s *Syncer) Disconnect(ctx context.Context, clientID string, confirm utils.Confirmer) error {
	prompt := fmt.Sprintf("Disconnect WhatsApp for client %s? The paired device will be logged out.", clientID)
	if err := utils.RequireConfirmation(confirm, prompt); err != nil {
		return err
	}
	if err := s.backend.Toggle(ctx, clientID, types.ActionDisconnect); err != nil {
		return fmt.Errorf("disconnect client %s: %w", clientID, err)
	}
	s.logger.Info().Str("client_id", clientID).Msg("whatsapp disconnected")
	return nil
}
