package users

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestInMemoryStoreUniqueness(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	alice, err := s.Create(ctx, User{Email: "Alice@Example.com", Username: "Alice", Name: "Alice", IsActive: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if alice.Email != "alice@example.com" || alice.Username != "alice" {
		t.Fatalf("Create() did not normalize: %+v", alice)
	}

	if _, err := s.Create(ctx, User{Email: "alice@example.com", Username: "other", Name: "A2"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("Create(dup email) error = %v, want ErrEmailTaken", err)
	}
	if _, err := s.Create(ctx, User{Email: "a3@example.com", Username: "ALICE", Name: "A3"}); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("Create(dup username) error = %v, want ErrUsernameTaken", err)
	}

	bob, _ := s.Create(ctx, User{Email: "bob@example.com", Username: "bob", Name: "Bob", IsActive: true})
	if _, err := s.Update(ctx, bob.ID, func(u *User) error { u.Username = "alice"; return nil }); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("Update(dup username) error = %v, want ErrUsernameTaken", err)
	}
	got, _ := s.FindByID(ctx, bob.ID)
	if got.Username != "bob" {
		t.Fatalf("rejected update persisted: %+v", got)
	}

	// bob holds the email, alice the username: the email clash is reported
	for i := 0; i < 20; i++ {
		if _, err := s.Create(ctx, User{Email: "bob@example.com", Username: "alice", Name: "Dup"}); !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("Create(dup email and username) error = %v, want ErrEmailTaken", err)
		}
	}
}

func TestInMemoryStoreLookups(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	alice, _ := s.Create(ctx, User{Email: "alice@example.com", Username: "alice", Name: "Alice", IsActive: true})
	_, _ = s.Create(ctx, User{Email: "zed@example.com", Username: "zed", Name: "Zed"})

	if u, err := s.FindByEmail(ctx, " ALICE@example.com "); err != nil || u.ID != alice.ID {
		t.Fatalf("FindByEmail() = %+v, %v", u, err)
	}
	if u, err := s.FindByUsername(ctx, "Alice"); err != nil || u.ID != alice.ID {
		t.Fatalf("FindByUsername() = %+v, %v", u, err)
	}
	if _, err := s.FindByID(ctx, "nope"); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("FindByID(nope) error = %v, want ErrStoreNotFound", err)
	}

	found, err := s.FindByIDs(ctx, []string{alice.ID, "nope"})
	if err != nil {
		t.Fatalf("FindByIDs() error = %v", err)
	}
	if len(found) != 1 || found[alice.ID].Name != "Alice" {
		t.Fatalf("FindByIDs() = %+v", found)
	}

	active, _ := s.ListActive(ctx)
	if len(active) != 1 || active[0].ID != alice.ID {
		t.Fatalf("ListActive() = %+v, want only alice", active)
	}

	deleted, err := s.Delete(ctx, alice.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete() = %v, %v", deleted, err)
	}
}

func TestUsernameFromEmail(t *testing.T) {
	cases := map[string]string{
		"Sam.Smith+tag@example.com": "sam.smithtag",
		"ab@example.com":            "ab_",
	}
	for in, want := range cases {
		if got := UsernameFromEmail(in); got != want {
			t.Fatalf("UsernameFromEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUsernameWithSuffix(t *testing.T) {
	got := UsernameWithSuffix("alice")
	if !strings.HasPrefix(got, "alice_") || len(got) != len("alice_")+6 {
		t.Fatalf("UsernameWithSuffix(alice) = %q", got)
	}
	long := strings.Repeat("x", 30)
	if got := UsernameWithSuffix(long); len(got) != 30 || ValidateUsername(got) != nil {
		t.Fatalf("UsernameWithSuffix(30 chars) = %q (%d)", got, len(got))
	}
	if UsernameWithSuffix("alice") == got {
		t.Fatalf("UsernameWithSuffix() repeated a suffix")
	}
}

func TestValidateEmail(t *testing.T) {
	if err := ValidateEmail("sam@example.com"); err != nil {
		t.Fatalf("ValidateEmail() error = %v", err)
	}
	if err := ValidateEmail("Sam <sam@example.com>"); err == nil {
		t.Fatalf("ValidateEmail(display name) error = nil, want error")
	}
}
