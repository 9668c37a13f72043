// Package accesskey implements the capability token format used by the v2 API:
// an opaque high-entropy key prefixed with its grant type, "RO::<key>" for
// read-only access and "RW::<key>" for read-write access.
package accesskey

import "strings"

type Kind int

const (
	// KindNone means no key was supplied at all.
	KindNone Kind = iota
	// KindInvalid means a key was supplied but its format is not RO::/RW::.
	KindInvalid
	KindReadOnly
	KindReadWrite
)

const separator = "::"

type Key struct {
	Value string
	Kind  Kind
}

// Parse splits a raw token into its kind and key value. An empty input yields
// a Key whose Provided() is false, which is distinct from an invalid format.
func Parse(raw string) Key {
	if raw == "" {
		return Key{}
	}
	prefix, value, found := strings.Cut(raw, separator)
	if !found || value == "" {
		return Key{Kind: KindInvalid}
	}
	switch prefix {
	case "RO":
		return Key{Value: value, Kind: KindReadOnly}
	case "RW":
		return Key{Value: value, Kind: KindReadWrite}
	default:
		return Key{Kind: KindInvalid}
	}
}

// FromParams builds a Key from the legacy separate query parameters. A
// readAccessKey takes precedence when both are present, matching the order the
// open endpoint has always checked them in.
func FromParams(readKey, readWriteKey string) Key {
	if readKey != "" {
		return Key{Value: readKey, Kind: KindReadOnly}
	}
	if readWriteKey != "" {
		return Key{Value: readWriteKey, Kind: KindReadWrite}
	}
	return Key{}
}

func (k Key) Provided() bool {
	return k.Kind != KindNone
}

func (k Key) Valid() bool {
	return k.Kind == KindReadOnly || k.Kind == KindReadWrite
}

func (k Key) ReadOnly() bool {
	return k.Kind == KindReadOnly
}

func (k Key) ReadWrite() bool {
	return k.Kind == KindReadWrite
}

// String re-encodes the key in its wire form.
func (k Key) String() string {
	switch k.Kind {
	case KindReadOnly:
		return "RO" + separator + k.Value
	case KindReadWrite:
		return "RW" + separator + k.Value
	default:
		return ""
	}
}
