// Package shortcode implements the compact token format used in share links:
// a two-letter entity-type prefix concatenated with the entity identifier.
// The codec is pure and performs no I/O.
package shortcode

import (
	"errors"
	"fmt"

	"github.com/syncfm/resolver/internal/domain"
)

// ErrUnresolvable is returned when a token is too short or carries an
// unknown type prefix. It signals "we don't know what this is", never a crash.
var ErrUnresolvable = errors.New("shortcode: unresolvable token")

const prefixLen = 2

var typeToPrefix = map[domain.EntityType]string{
	domain.EntityTypeSong:   "so",
	domain.EntityTypeArtist: "ar",
	domain.EntityTypeAlbum:  "al",
}

var prefixToType = map[string]domain.EntityType{
	"so": domain.EntityTypeSong,
	"ar": domain.EntityTypeArtist,
	"al": domain.EntityTypeAlbum,
}

// Decoded is the result of decoding a shortcode token.
type Decoded struct {
	EntityType domain.EntityType
	ID         string
}

// Encode builds the token for an entity type and identifier. Playlists have
// no shortcode form, so only song, artist and album encode.
func Encode(t domain.EntityType, id string) (string, error) {
	prefix, ok := typeToPrefix[t]
	if !ok {
		return "", fmt.Errorf("shortcode: no prefix for entity type %q", t)
	}
	return prefix + id, nil
}

// Decode splits a token into its entity type and identifier. Tokens shorter
// than the prefix or with an unrecognized prefix yield ErrUnresolvable.
func Decode(token string) (Decoded, error) {
	if len(token) < prefixLen {
		return Decoded{}, ErrUnresolvable
	}
	t, ok := prefixToType[token[:prefixLen]]
	if !ok {
		return Decoded{}, ErrUnresolvable
	}
	return Decoded{EntityType: t, ID: token[prefixLen:]}, nil
}
