package verification

import (
	"errors"
	"fmt"
	"net/url"
)

var ErrFormNotConfigured = errors.New("verification form is not configured")

// FormLink builds the pre-filled form URL carrying userID in the entry field.
// Query parameters already on base (e.g. usp=pp_url) are kept.
func FormLink(base, entryID, userID string) (string, error) {
	if base == "" || entryID == "" {
		return "", ErrFormNotConfigured
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse form url: %w", err)
	}

	q := u.Query()
	q.Set(entryID, userID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
