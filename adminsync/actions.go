package adminsync

import (
	"context"
	"fmt"
	"strings"

	"wa-console/backend"
	"wa-console/types"
	"wa-console/utils"
)

// runAction is the common shape of every mutation: debounce, gate the
// loading key, call the backend, post a notice and resync the list.
// A refresh is skipped when onSuccess reports the local view is already
// up to date.
func (f *Fleet) runAction(ctx context.Context, op, id string, call func(context.Context) error, successMsg string, onSuccess func() bool) error {
	key := opKey(op, id)
	if !f.debouncer.Allow(key) {
		f.logger.Debug().Str("action", key).Msg("debounced")
		return ErrDebounced
	}
	f.loading.Set(key, true)
	err := call(ctx)
	f.loading.Set(key, false)

	if err != nil {
		f.logger.Error().Err(err).Str("action", op).Str("client_id", id).Msg("action failed")
		f.notices.Error(backend.UserMessage(err))
		f.changed()
		if listErr := f.ListClients(ctx); listErr != nil {
			f.logger.Debug().Err(listErr).Msg("list refresh after failed action")
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	f.logger.Info().Str("action", op).Str("client_id", id).Msg("action succeeded")
	skipRefresh := false
	if onSuccess != nil {
		skipRefresh = onSuccess()
	}
	f.notices.Success(successMsg)
	f.changed()
	if !skipRefresh {
		if listErr := f.ListClients(ctx); listErr != nil {
			f.logger.Debug().Err(listErr).Msg("list refresh after action")
		}
	}
	return nil
}

// CreateClient validates the form locally and creates the client.
// Validation failures return before any request is made.
func (f *Fleet) CreateClient(ctx context.Context, form types.CreateClientForm) (types.ClientRecord, error) {
	if err := ValidateCreateForm(form); err != nil {
		return types.ClientRecord{}, err
	}
	form = trimForm(form)
	var created types.ClientRecord
	// repeated submits of the same form collapse, distinct forms do not
	err := f.runAction(ctx, "create", strings.ToLower(form.Email), func(ctx context.Context) error {
		var err error
		created, err = f.backend.CreateClient(ctx, form)
		return err
	}, fmt.Sprintf("Client %s created.", form.Name), nil)
	return created, err
}

// ToggleClient connects (active) or disconnects a client. Deactivation
// needs confirmation.
func (f *Fleet) ToggleClient(ctx context.Context, clientID string, active bool, confirm utils.Confirmer) error {
	action := types.ActionConnect
	msg := "Client activated."
	if !active {
		if err := utils.RequireConfirmation(confirm, fmt.Sprintf("Deactivate client %s?", clientID)); err != nil {
			return err
		}
		action = types.ActionDisconnect
		msg = "Client deactivated."
	}
	return f.runAction(ctx, "toggle", clientID, func(ctx context.Context) error {
		return f.backend.Toggle(ctx, clientID, action)
	}, msg, nil)
}

// DeleteClient removes a client after confirmation. On success the row is
// dropped locally without another list request.
func (f *Fleet) DeleteClient(ctx context.Context, clientID string, confirm utils.Confirmer) error {
	if err := utils.RequireConfirmation(confirm, fmt.Sprintf("Delete client %s? This cannot be undone.", clientID)); err != nil {
		return err
	}
	return f.runAction(ctx, "delete", clientID, func(ctx context.Context) error {
		return f.backend.DeleteClient(ctx, clientID)
	}, "Client deleted.", func() bool {
		f.removeLocal(clientID)
		return true
	})
}

func (f *Fleet) removeLocal(clientID string) {
	f.mutex.Lock()
	kept := f.clients[:0:0]
	for _, c := range f.clients {
		if c.ID != clientID {
			kept = append(kept, c)
		}
	}
	f.clients = kept
	delete(f.states, clientID)
	f.mutex.Unlock()
	f.cache.DeleteSuffix("-" + clientID)
}

// UpdateEmail changes the contact address of a client
func (f *Fleet) UpdateEmail(ctx context.Context, clientID, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	return f.runAction(ctx, "email", clientID, func(ctx context.Context) error {
		return f.backend.UpdateEmail(ctx, clientID, email)
	}, "Email updated.", nil)
}

// ResendInvite sends the onboarding email again
func (f *Fleet) ResendInvite(ctx context.Context, clientID string) error {
	return f.runAction(ctx, "resend", clientID, func(ctx context.Context) error {
		return f.backend.ResendEmail(ctx, clientID)
	}, "Invitation sent.", nil)
}

// UpdateClient edits the fields set in update
func (f *Fleet) UpdateClient(ctx context.Context, clientID string, update types.ClientUpdate) (types.ClientRecord, error) {
	if update.Email != nil {
		if err := ValidateEmail(*update.Email); err != nil {
			return types.ClientRecord{}, err
		}
	}
	if update.Name != nil && len([]rune(strings.TrimSpace(*update.Name))) < minNameLength {
		return types.ClientRecord{}, backend.ValidationError("name", "The name must be at least 3 characters long.")
	}
	var updated types.ClientRecord
	err := f.runAction(ctx, "update", clientID, func(ctx context.Context) error {
		var err error
		updated, err = f.backend.UpdateClient(ctx, clientID, update)
		return err
	}, "Client updated.", nil)
	return updated, err
}

// GetClient loads one client's full record without touching the list
func (f *Fleet) GetClient(ctx context.Context, clientID string) (types.ClientRecord, error) {
	key := opKey("get", clientID)
	f.loading.Set(key, true)
	defer f.loading.Set(key, false)
	rec, err := f.backend.GetClient(ctx, clientID)
	if err != nil {
		return types.ClientRecord{}, fmt.Errorf("get client: %w", err)
	}
	return rec, nil
}

// ClientStatus fetches one client's channel status and stores it on its row
func (f *Fleet) ClientStatus(ctx context.Context, clientID string) (types.ConnectionState, error) {
	key := opKey("status", clientID)
	f.loading.Set(key, true)
	defer f.loading.Set(key, false)
	st, err := f.backend.AdminStatus(ctx, clientID)
	if err != nil {
		return types.ConnectionState{}, fmt.Errorf("client status: %w", err)
	}

	f.mutex.Lock()
	state := f.states[clientID]
	state.Status = st.Status
	state = state.Normalize()
	if !f.closed && f.hasClientLocked(clientID) {
		f.states[clientID] = state
	}
	f.mutex.Unlock()
	f.changed()
	return state, nil
}
