package profile

import (
	"errors"
	"net/url"
	"strings"
)

// ErrMissingIdentity is returned when no character id can be resolved.
var ErrMissingIdentity = errors.New("character id is required")

// identityParams are checked in order; character_id is the older spelling.
var identityParams = []string{"id", "character_id"}

// ResolveCharacterID extracts the trimmed character id from query or form values.
func ResolveCharacterID(values url.Values) (string, error) {
	for _, name := range identityParams {
		if id := strings.TrimSpace(values.Get(name)); id != "" {
			return id, nil
		}
	}
	return "", ErrMissingIdentity
}
