// Package idgen generates prefixed, URL-safe ids for sessions and items.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	SessionPrefix = "vs-"
	ItemPrefix    = "vi-"

	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	length   = 10
)

// SessionID returns a new verification session id.
func SessionID() (string, error) {
	return withPrefix(SessionPrefix)
}

// ItemIDs returns n verification item ids, one per canonical field.
func ItemIDs(n int) ([]string, error) {
	ids := make([]string, n)
	for i := range ids {
		id, err := withPrefix(ItemPrefix)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func withPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
