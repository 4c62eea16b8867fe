package tagcodec

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]KeyVal{
		nil,
		{{Key: "highway", Value: "residential"}},
		{{Key: "highway", Value: "residential"}, {Key: "name", Value: "Hauptstraße"}},
		{{Key: "some_unknown_key", Value: "some_unknown_value"}},
		{
			{Key: "highway", Value: "residential"},
			{Key: "name", Value: "Hauptstraße"},
			{Key: "weird:custom:tag", Value: "123"},
		},
	}

	for _, tags := range cases {
		encoded := EncodeTagList(tags)
		decoded, consumed, err := DecodeTagList(encoded)
		if err != nil {
			t.Fatalf("DecodeTagList(%v) error: %v", tags, err)
		}
		if consumed != len(encoded) {
			t.Errorf("consumed %d of %d bytes for %v", consumed, len(encoded), tags)
		}

		var want []KeyVal
		want = append(want, tags...)
		if want == nil {
			want = []KeyVal{}
		}
		if decoded == nil {
			decoded = []KeyVal{}
		}
		if !reflect.DeepEqual(decoded, want) {
			t.Errorf("round trip mismatch: got %v, want %v", decoded, want)
		}
	}
}

func TestEmptyTagListIsOneZeroByte(t *testing.T) {
	encoded := EncodeTagList(nil)
	if len(encoded) != 1 || encoded[0] != 0x00 {
		t.Errorf("expected single 0x00 byte for empty tag list, got %v", encoded)
	}
}

func TestNoiseKeysAreFiltered(t *testing.T) {
	tags := []KeyVal{
		{Key: "created_by", Value: "JOSM"},
		{Key: "source", Value: "Bing"},
		{Key: "source:date", Value: "2020"},
		{Key: "tiger:county", Value: "Foo, XX"},
		{Key: "highway", Value: "residential"},
	}

	encoded := EncodeTagList(tags)
	decoded, _, err := DecodeTagList(encoded)
	if err != nil {
		t.Fatalf("DecodeTagList error: %v", err)
	}

	want := []KeyVal{{Key: "highway", Value: "residential"}}
	if !reflect.DeepEqual(decoded, want) {
		t.Errorf("got %v, want %v", decoded, want)
	}
}

func TestEncodeTagCodes(t *testing.T) {
	if code := EncodeTag("highway", "residential"); code <= 0 {
		t.Errorf("expected positive code for known pair, got %d", code)
	}
	if code := EncodeTag("name", "whatever"); code >= 0 {
		t.Errorf("expected negative code for known key/unknown value, got %d", code)
	}
	if code := EncodeTag("totally_unknown", "whatever"); code != 0 {
		t.Errorf("expected code 0 for unknown key, got %d", code)
	}
}

func TestRoleRoundTrip(t *testing.T) {
	for _, role := range []string{"outer", "inner", "from", "to"} {
		code := EncodeRole(role)
		if code == 0 {
			t.Errorf("expected non-zero code for common role %q", role)
		}
		if got := DecodeRole(code); got != role {
			t.Errorf("DecodeRole(EncodeRole(%q)) = %q", role, got)
		}
	}

	if code := EncodeRole("some_unusual_role_xyz"); code != 0 {
		t.Errorf("expected code 0 for unknown role, got %d", code)
	}
	if got := DecodeRole(0); got != "" {
		t.Errorf("DecodeRole(0) = %q, want empty string", got)
	}
}
