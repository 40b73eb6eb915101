package auth

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("sekrit", time.Hour)
	token, err := v.Issue("alice@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tenant, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tenant != "alice@example.com" {
		t.Fatalf("tenant = %q", tenant)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("sekrit", time.Hour).Issue("alice@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewVerifier("other", time.Hour).Verify(token); err == nil {
		t.Fatalf("expected verification failure")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier("sekrit", time.Hour)
	v.clock = func() time.Time { return time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC) }
	token, err := v.Issue("alice@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	v.clock = func() time.Time { return time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC) }
	if _, err := v.Verify(token); err == nil {
		t.Fatalf("expected expiry failure")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "ok", header: "Bearer abc.def", want: "abc.def"},
		{name: "case-insensitive-scheme", header: "bearer abc", want: "abc"},
		{name: "missing", header: "", want: ""},
		{name: "wrong-scheme", header: "Basic abc", want: ""},
		{name: "no-token", header: "Bearer", want: ""},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if got := BearerToken(r); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
