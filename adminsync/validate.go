package adminsync

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"wa-console/backend"
	"wa-console/types"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minNameLength = 3

// ValidateEmail checks the simple address pattern used by the create and
// update forms
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return backend.ValidationError("email", "Please enter a valid email address.")
	}
	return nil
}

// ValidateCreateForm runs every local check of the create form. It never
// touches the network.
func ValidateCreateForm(form types.CreateClientForm) error {
	if err := ValidateEmail(form.Email); err != nil {
		return err
	}
	if utf8.RuneCountInString(strings.TrimSpace(form.Name)) < minNameLength {
		return backend.ValidationError("name", "The name must be at least 3 characters long.")
	}
	if strings.TrimSpace(form.APIKey) == "" {
		return backend.ValidationError("openai_api_key", "The OpenAI API key is required.")
	}
	if strings.TrimSpace(form.AssistantID) == "" {
		return backend.ValidationError("openai_assistant_id", "The assistant ID is required.")
	}
	return nil
}

func trimForm(form types.CreateClientForm) types.CreateClientForm {
	return types.CreateClientForm{
		Name:        strings.TrimSpace(form.Name),
		Email:       strings.TrimSpace(form.Email),
		APIKey:      strings.TrimSpace(form.APIKey),
		AssistantID: strings.TrimSpace(form.AssistantID),
	}
}
