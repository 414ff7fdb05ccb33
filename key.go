package spc

import "strings"

// KeySeparator joins the components of a composite detector key.
const KeySeparator = "::"

const (
	unknownProduct = "unknownproduct"
	unknownLine    = "unknownline"
	unknownStation = "unknownstation"
)

// Key identifies a detector: one monitored item within one production
// context. Two samples share a detector iff they share a Key.
type Key struct {
	Product string
	Line    string
	Station string
	Item    string
}

// NewKey builds the detector key for an item and its context. Missing context
// components are substituted with unknown placeholders; an entirely empty
// context degrades the key to the bare item.
func NewKey(item string, ctx Context) Key {
	k := Key{Item: strings.ToLower(item)}
	if ctx.IsEmpty() {
		return k
	}
	k.Product = lowerOr(ctx.Product, unknownProduct)
	k.Line = lowerOr(ctx.Line, unknownLine)
	k.Station = lowerOr(ctx.Station, unknownStation)
	return k
}

func lowerOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return strings.ToLower(s)
}

// IsBare returns whether the key carries no production context.
func (k Key) IsBare() bool {
	return k.Product == "" && k.Line == "" && k.Station == ""
}

// String returns the canonical serialization: product::line::station::item,
// lowercased, or the bare item when no context is present.
func (k Key) String() string {
	if k.IsBare() {
		return k.Item
	}
	return k.Product + KeySeparator + k.Line + KeySeparator + k.Station + KeySeparator + k.Item
}

// ItemOfKey extracts the bare item name from a serialized detector key.
func ItemOfKey(key string) string {
	if i := strings.LastIndex(key, KeySeparator); i >= 0 {
		return key[i+len(KeySeparator):]
	}
	return key
}
