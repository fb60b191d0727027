package intent

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"pgregory.net/rapid"
)

func TestIsValidIdentifier(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"7c9e6679-7425-40de-944b-e07fc1f90ae7", true},
		{"7C9E6679-7425-40DE-944B-E07FC1F90AE7", true},
		{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
		{"not-a-uuid", false},
		{"", false},
		{"7c9e6679742540de944be07fc1f90ae7", false},
		{"{7c9e6679-7425-40de-944b-e07fc1f90ae7}", false},
		{"7c9e6679-7425-60de-944b-e07fc1f90ae7", false},
		{"7c9e6679-7425-00de-944b-e07fc1f90ae7", false},
		{"7c9e6679-7425-40de-c44b-e07fc1f90ae7", false},
		{"7c9e6679-7425-40de-944b-e07fc1f90aez", false},
	}
	for _, tc := range cases {
		if got := IsValidIdentifier(tc.value); got != tc.want {
			t.Fatalf("IsValidIdentifier(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestIsValidIdentifierProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(rt, "bytes")
		version := rapid.IntRange(1, 5).Draw(rt, "version")
		var id uuid.UUID
		copy(id[:], raw)
		id[6] = (id[6] & 0x0f) | byte(version<<4)
		id[8] = (id[8] & 0x3f) | 0x80
		if !IsValidIdentifier(id.String()) {
			rt.Fatalf("expected %s to be valid", id)
		}
		if !IsValidIdentifier(strings.ToUpper(id.String())) {
			rt.Fatalf("expected upper-case %s to be valid", id)
		}
	})

	rapid.Check(t, func(rt *rapid.T) {
		value := rapid.String().Filter(func(s string) bool { return len(s) != 36 }).Draw(rt, "value")
		if IsValidIdentifier(value) {
			rt.Fatalf("expected %q to be invalid", value)
		}
	})
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		value  any
		want   string
		wantOK bool
	}{
		{"  abc  ", "abc", true},
		{"   ", "", false},
		{[]string{" first ", "second"}, "first", true},
		{[]any{"first", 2}, "first", true},
		{[]any{}, "", false},
		{[]string{}, "", false},
		{42, "", false},
		{nil, "", false},
		{map[string]any{"targetId": "x"}, "", false},
	}
	for _, tc := range cases {
		got, ok := Normalize(tc.value)
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("Normalize(%#v) = (%q, %v), want (%q, %v)", tc.value, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestParsePurpose(t *testing.T) {
	if p, ok := ParsePurpose("post_authorization"); !ok || p != PurposePostAuthorization {
		t.Fatalf("expected post-authorization alias, got %q %v", p, ok)
	}
	if p, ok := ParsePurpose(""); !ok || p != PurposeGeneric {
		t.Fatalf("expected empty purpose to default to generic, got %q %v", p, ok)
	}
	if _, ok := ParsePurpose("other"); ok {
		t.Fatalf("expected unknown purpose to be rejected")
	}
}
