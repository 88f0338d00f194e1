package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/taskhub/internal/apperr"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour, "taskhub")
	signed, expires, err := tokens.Issue("u1", "u1@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if time.Until(expires) < 59*time.Minute {
		t.Fatalf("expires = %v, want ~1h ahead", expires)
	}
	claims, err := tokens.Verify(signed)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "u1@example.com" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestTokensRejectExpiredForeignAndGarbage(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour, "taskhub")
	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := tokens.Issue("u1", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	tokens.now = time.Now
	if _, err := tokens.Verify(expired); !errors.Is(err, apperr.ErrUnauthenticated) || apperr.MessageOf(err) != "token expired" {
		t.Fatalf("Verify(expired) error = %v, want token expired", err)
	}

	other := NewTokens("another-secret-0123456789", time.Hour, "taskhub")
	foreign, _, _ := other.Issue("u1", "")
	if _, err := tokens.Verify(foreign); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("Verify(foreign) error = %v, want unauthenticated", err)
	}

	wrongIssuer := NewTokens(testSecret, time.Hour, "someone-else")
	tok, _, _ := wrongIssuer.Issue("u1", "")
	if _, err := tokens.Verify(tok); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("Verify(wrong issuer) error = %v, want unauthenticated", err)
	}

	for _, raw := range []string{"", "abc", "a.b.c"} {
		if _, err := tokens.Verify(raw); !errors.Is(err, apperr.ErrUnauthenticated) {
			t.Fatalf("Verify(%q) error = %v, want unauthenticated", raw, err)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for in, want := range cases {
		if got := BearerToken(in); got != want {
			t.Fatalf("BearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
