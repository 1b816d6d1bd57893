package api

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxTitleLength   = 255
	maxNameLength    = 120
	maxEmailLength   = 254
	minPasswordBytes = 8
)

var errPastDeliveryDate = errors.New("delivery_date must be in the future")

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if len(email) > maxEmailLength {
		return fmt.Errorf("email exceeds %d characters", maxEmailLength)
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return errors.New("email is malformed")
	}
	if strings.ContainsAny(email, " \t\n") {
		return errors.New("email is malformed")
	}
	return nil
}

func validateSignup(req SignupRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	if len(req.Name) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters", maxNameLength)
	}
	if err := validateEmail(req.Email); err != nil {
		return err
	}
	if len(req.Password) < minPasswordBytes {
		return fmt.Errorf("password must be at least %d characters", minPasswordBytes)
	}
	return nil
}

// parseDeliveryDate parses an RFC3339 timestamp and rejects values that are
// not strictly after now. A document due at creation time would be swept
// immediately, which is never what the author intended.
func parseDeliveryDate(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("delivery_date is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("delivery_date is not RFC3339: %w", err)
	}
	if !t.After(now) {
		return time.Time{}, errPastDeliveryDate
	}
	return t.UTC(), nil
}

func validateCreateDocument(req CreateDocumentRequest, now time.Time) (time.Time, error) {
	if strings.TrimSpace(req.Title) == "" {
		return time.Time{}, errors.New("title is required")
	}
	if len(req.Title) > maxTitleLength {
		return time.Time{}, fmt.Errorf("title exceeds %d characters", maxTitleLength)
	}
	for _, email := range req.Collaborators {
		if err := validateEmail(email); err != nil {
			return time.Time{}, fmt.Errorf("collaborator %q: %w", email, err)
		}
	}
	return parseDeliveryDate(req.DeliveryDate, now)
}
