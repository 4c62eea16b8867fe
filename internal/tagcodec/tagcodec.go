// Package tagcodec encodes and decodes OSM key/value tag lists into the
// compact byte stream described in spec section 3, backed by a static
// dictionary of well-known keys and key/value pairs with a freetext
// fallback. It also encodes the most common relation member roles.
//
// The lookup mechanism (hashed exact match on key bytes, then on value
// bytes) is grounded on the teacher's index/tag.go TagIndex, which builds
// the same two-level key->value lookup dynamically per input file; here the
// tables are static (see dictionary.go) because the spec calls for a
// dictionary "compiled from the most frequent tags observed in OSM" rather
// than one rebuilt for every load.
package tagcodec

import (
	"github.com/pkg/errors"

	"osmstore/internal/errs"
	"osmstore/internal/varint"
)

// KeyVal is a single decoded tag.
type KeyVal struct {
	Key   string
	Value string
}

type pairKey struct {
	key   string
	value string
}

var (
	pairToCode = map[pairKey]int8{}
	codeToPair = map[int8]pair{}

	keyToCode = map[string]int8{}
	codeToKey = map[int8]string{}

	roleToCode = map[string]uint8{}
	codeToRole = map[uint8]string{}
)

func init() {
	if len(knownPairs) > 127 {
		panic("tagcodec: too many known pairs for an int8 positive code range")
	}
	if len(knownKeys) > 127 {
		panic("tagcodec: too many known keys for an int8 negative code range")
	}
	if len(knownRoles) > 255 {
		panic("tagcodec: too many known roles for a uint8 code")
	}

	for i, p := range knownPairs {
		code := int8(i + 1)
		pairToCode[pairKey{p.key, p.value}] = code
		codeToPair[code] = p
	}
	for i, k := range knownKeys {
		code := int8(-(i + 1))
		keyToCode[k] = code
		codeToKey[code] = k
	}
	for i, r := range knownRoles {
		code := uint8(i + 1)
		roleToCode[r] = code
		codeToRole[code] = r
	}
}

// EncodeTag returns the code for (key, val): positive if the exact pair is
// in the dictionary, negative if only the key is known, 0 otherwise.
func EncodeTag(key, val string) int8 {
	if code, ok := pairToCode[pairKey{key, val}]; ok {
		return code
	}
	if code, ok := keyToCode[key]; ok {
		return code
	}
	return 0
}

// EncodeRole returns the role code for the given relation member role, or 0
// if it is not among the top known roles.
func EncodeRole(role string) uint8 {
	return roleToCode[role]
}

// DecodeRole returns the role string for the given code, or "" for code 0 or
// any code not in the table.
func DecodeRole(code uint8) string {
	return codeToRole[code]
}

// EncodeTagList writes the full tag-list payload for an entity: a varint
// tag count followed by one encoded tag per surviving (non-noise) pair.
func EncodeTagList(tags []KeyVal) []byte {
	filtered := make([]KeyVal, 0, len(tags))
	for _, t := range tags {
		if !isNoiseKey(t.Key) {
			filtered = append(filtered, t)
		}
	}

	buf := varint.AppendUvarint(nil, uint64(len(filtered)))
	for _, t := range filtered {
		buf = encodeTag(buf, t)
	}
	return buf
}

func encodeTag(buf []byte, t KeyVal) []byte {
	code := EncodeTag(t.Key, t.Value)
	buf = append(buf, byte(code))

	switch {
	case code > 0:
		// Both key and value are known from the pair dictionary -- no
		// inline strings follow.
	case code < 0:
		buf = appendString(buf, t.Value)
	default:
		buf = appendString(buf, t.Key)
		buf = appendString(buf, t.Value)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = varint.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// DecodeTagList parses the full tag-list payload written by EncodeTagList.
func DecodeTagList(data []byte) ([]KeyVal, int, error) {
	count, n, err := varint.DecodeUvarint(data)
	if err != nil {
		return nil, 0, errors.Wrap(err, "decoding tag count")
	}
	pos := n

	tags := make([]KeyVal, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos >= len(data) {
			return nil, 0, errors.Wrapf(errs.MalformedPbf, "tag payload truncated after %d of %d tags", i, count)
		}
		kv, consumed, err := DecodeTag(data[pos:])
		if err != nil {
			return nil, 0, errors.Wrapf(err, "decoding tag %d of %d", i, count)
		}
		tags = append(tags, kv)
		pos += consumed
	}
	return tags, pos, nil
}

// DecodeTag parses a single tag (code byte plus zero, one or two inline
// strings) and returns the number of bytes it consumed.
func DecodeTag(data []byte) (KeyVal, int, error) {
	if len(data) == 0 {
		return KeyVal{}, 0, errors.Wrap(errs.MalformedPbf, "empty tag data")
	}

	code := int8(data[0])
	pos := 1

	switch {
	case code > 0:
		p, ok := codeToPair[code]
		if !ok {
			return KeyVal{}, 0, errors.Wrapf(errs.MalformedPbf, "unknown pair code %d", code)
		}
		return KeyVal{Key: p.key, Value: p.value}, pos, nil

	case code < 0:
		key, ok := codeToKey[code]
		if !ok {
			return KeyVal{}, 0, errors.Wrapf(errs.MalformedPbf, "unknown key code %d", code)
		}
		value, consumed, err := readString(data[pos:])
		if err != nil {
			return KeyVal{}, 0, errors.Wrapf(err, "decoding value for key %q", key)
		}
		return KeyVal{Key: key, Value: value}, pos + consumed, nil

	default:
		key, consumedKey, err := readString(data[pos:])
		if err != nil {
			return KeyVal{}, 0, errors.Wrap(err, "decoding freetext key")
		}
		pos += consumedKey
		value, consumedVal, err := readString(data[pos:])
		if err != nil {
			return KeyVal{}, 0, errors.Wrap(err, "decoding freetext value")
		}
		pos += consumedVal
		return KeyVal{Key: key, Value: value}, pos, nil
	}
}

func readString(data []byte) (string, int, error) {
	length, n, err := varint.DecodeUvarint(data)
	if err != nil {
		return "", 0, errors.Wrap(err, "decoding string length")
	}
	start := n
	end := start + int(length)
	if end > len(data) {
		return "", 0, errors.Wrapf(errs.MalformedPbf, "string of length %d truncated", length)
	}
	return string(data[start:end]), end, nil
}
