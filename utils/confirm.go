package utils

import "errors"

// ErrNotConfirmed is returned when a destructive action was not approved
var ErrNotConfirmed = errors.New("action not confirmed")

// Confirmer asks the operator to approve a destructive action
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Confirmed is a Confirmer for already approved actions (e.g. --yes)
var Confirmed Confirmer = ConfirmFunc(func(string) bool { return true })

// RequireConfirmation asks c, treating a nil Confirmer as a refusal
func RequireConfirmation(c Confirmer, prompt string) error {
	if c == nil || !c.Confirm(prompt) {
		return ErrNotConfirmed
	}
	return nil
}
