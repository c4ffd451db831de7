package user

import (
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Role
		wantErr bool
	}{
		{name: "user", input: "user", want: RoleUser},
		{name: "remote employee", input: "remote_employee", want: RoleRemoteEmployee},
		{name: "admin with spaces", input: " admin ", want: RoleAdmin},
		{name: "unknown", input: "owner", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if apperrors.GetCode(err) != apperrors.CodeInvalidRole {
					t.Fatalf("code = %s, want %s", apperrors.GetCode(err), apperrors.CodeInvalidRole)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse role: %v", err)
			}
			if got != tt.want {
				t.Fatalf("role = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateUserRemoteEmployee(t *testing.T) {
	fixed := time.Date(2026, 1, 23, 10, 0, 0, 0, time.UTC)
	created, err := CreateUser(CreateUserInput{
		Email:        "  Ada@Example.com ",
		Name:         "Ada Lovelace",
		PasswordHash: "hash",
		Role:         RoleRemoteEmployee,
		ReferredBy:   "emp-0",
	}, func() time.Time { return fixed }, func() (string, error) {
		return "user-123", nil
	}, func() (string, error) {
		return "REMOTEABCDEFGH", nil
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID != "user-123" {
		t.Fatalf("id = %q", created.ID)
	}
	if created.Email != "ada@example.com" {
		t.Fatalf("email = %q", created.Email)
	}
	if created.DiscountCode != "REMOTEABCDEFGH" {
		t.Fatalf("discount code = %q", created.DiscountCode)
	}
	if created.ReferralPoints == nil || *created.ReferralPoints != 0 {
		t.Fatalf("referral points = %v, want 0", created.ReferralPoints)
	}
	if created.ReferredBy != "emp-0" {
		t.Fatalf("referred by = %q", created.ReferredBy)
	}
	if created.LettersUsed != nil {
		t.Fatal("remote employees do not track letters")
	}
	if !created.CreatedAt.Equal(fixed) || !created.UpdatedAt.Equal(fixed) {
		t.Fatalf("timestamps = %v/%v, want %v", created.CreatedAt, created.UpdatedAt, fixed)
	}
}

func TestCreateUserRegular(t *testing.T) {
	created, err := CreateUser(CreateUserInput{
		Email:        "bob@example.com",
		Name:         "Bob",
		PasswordHash: "hash",
		Role:         RoleUser,
		ReferredBy:   "emp-1",
	}, nil, func() (string, error) { return "user-9", nil }, func() (string, error) {
		t.Fatal("discount code generated for regular user")
		return "", nil
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.LettersUsed == nil || *created.LettersUsed != 0 {
		t.Fatalf("letters used = %v, want 0", created.LettersUsed)
	}
	if created.ReferredBy != "emp-1" {
		t.Fatalf("referred by = %q", created.ReferredBy)
	}
	if created.DiscountCode != "" {
		t.Fatalf("discount code = %q, want empty", created.DiscountCode)
	}
}

func TestCreateUserRejectsInvalidInput(t *testing.T) {
	idGen := func() (string, error) { return "id", nil }
	if _, err := CreateUser(CreateUserInput{Email: "a@b.co", PasswordHash: "h", Role: "owner"}, nil, idGen, nil); err == nil {
		t.Fatal("expected role error")
	}
	if _, err := CreateUser(CreateUserInput{Email: " ", PasswordHash: "h", Role: RoleUser}, nil, idGen, nil); err == nil {
		t.Fatal("expected email error")
	}
	if _, err := CreateUser(CreateUserInput{Email: "a@b.co", Role: RoleUser}, nil, idGen, nil); err == nil {
		t.Fatal("expected password hash error")
	}
	boom := errors.New("boom")
	_, err := CreateUser(CreateUserInput{Email: "a@b.co", PasswordHash: "h", Role: RoleUser}, nil, func() (string, error) {
		return "", boom
	}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected id generator error, got %v", err)
	}
}

func TestNewDiscountCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := NewDiscountCode()
		if err != nil {
			t.Fatalf("new discount code: %v", err)
		}
		if !strings.HasPrefix(code, "REMOTE") || len(code) != 14 {
			t.Fatalf("code = %q", code)
		}
		for _, r := range code[6:] {
			if !strings.ContainsRune(discountCodeAlphabet, r) {
				t.Fatalf("code %q has invalid rune %q", code, r)
			}
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 45 {
		t.Fatalf("expected mostly unique codes, got %d", len(seen))
	}
}

func TestIsLocked(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	if (User{}).IsLocked(now) {
		t.Fatal("user without lock should not be locked")
	}
	if !(User{LockedUntil: &future}).IsLocked(now) {
		t.Fatal("expected locked user")
	}
	if (User{LockedUntil: &past}).IsLocked(now) {
		t.Fatal("expired lock should not apply")
	}
	if (User{LockedUntil: &now}).IsLocked(now) {
		t.Fatal("lock ending now should not apply")
	}
}
