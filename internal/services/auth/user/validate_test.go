package user

import (
	"errors"
	"testing"

	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
)

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if apperrors.GetCode(err) != apperrors.CodeValidationFailed {
		t.Fatalf("code = %s", apperrors.GetCode(err))
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field] = fe.Message
	}
	return out
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{password: "Str0ng!Pass", ok: true},
		{password: "Aa1@aaaa", ok: true},
		{password: "Aa1@", ok: false},
		{password: "alllower1@", ok: false},
		{password: "ALLUPPER1@", ok: false},
		{password: "NoDigits@@", ok: false},
		{password: "NoSpecial11", ok: false},
		{password: "Wrong1#Special", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			msg := ValidatePasswordStrength(tt.password)
			if tt.ok && msg != "" {
				t.Fatalf("unexpected rejection: %s", msg)
			}
			if !tt.ok && msg == "" {
				t.Fatal("expected rejection")
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	for _, email := range []string{"a@example.com", "first.last+tag@sub.example.org"} {
		if !ValidEmail(email) {
			t.Fatalf("expected %q to be valid", email)
		}
	}
	for _, email := range []string{"", "plain", "a@b", "Ada <a@example.com>", "a @example.com"} {
		if ValidEmail(email) {
			t.Fatalf("expected %q to be invalid", email)
		}
	}
}

func TestValidateRegistration(t *testing.T) {
	valid := RegisterInput{
		Email:           " Ada@Example.COM ",
		Name:            "Ada Lovelace",
		Password:        "Str0ng!Pass",
		ConfirmPassword: "Str0ng!Pass",
		Role:            "user",
	}

	t.Run("valid", func(t *testing.T) {
		got, role, err := ValidateRegistration(valid)
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if got.Email != "ada@example.com" {
			t.Fatalf("email = %q", got.Email)
		}
		if role != RoleUser {
			t.Fatalf("role = %q", role)
		}
	})

	t.Run("full width name is normalised", func(t *testing.T) {
		in := valid
		in.Name = "Ａｄａ"
		got, _, err := ValidateRegistration(in)
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if got.Name != "Ada" {
			t.Fatalf("name = %q", got.Name)
		}
	})

	t.Run("collects every failure", func(t *testing.T) {
		_, _, err := ValidateRegistration(RegisterInput{
			Email:           "nope",
			Name:            "R2D2",
			Password:        "weak",
			ConfirmPassword: "other",
			Role:            "owner",
			DiscountCode:    "abc",
		})
		fields := fieldsOf(t, err)
		for _, field := range []string{"email", "name", "password", "confirmPassword", "role", "discountCode"} {
			if _, ok := fields[field]; !ok {
				t.Fatalf("missing %s failure in %v", field, fields)
			}
		}
		if fields["name"] != "Name can only contain letters and spaces" {
			t.Fatalf("name message = %q", fields["name"])
		}
	})

	t.Run("short name", func(t *testing.T) {
		in := valid
		in.Name = "A"
		_, _, err := ValidateRegistration(in)
		if fieldsOf(t, err)["name"] != "Name must be between 2 and 100 characters" {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestValidateLogin(t *testing.T) {
	if _, _, err := ValidateLogin(LoginInput{Email: "a@example.com", Password: "x", Role: "admin"}); err != nil {
		t.Fatalf("validate login: %v", err)
	}
	_, _, err := ValidateLogin(LoginInput{Email: "a@example.com", Role: "admin"})
	if fieldsOf(t, err)["password"] != "Password is required" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateResetAndChange(t *testing.T) {
	if err := ValidateReset("tok", "Str0ng!Pass", "Str0ng!Pass"); err != nil {
		t.Fatalf("validate reset: %v", err)
	}
	fields := fieldsOf(t, ValidateReset("", "Str0ng!Pass", "x"))
	if _, ok := fields["token"]; !ok {
		t.Fatalf("missing token failure: %v", fields)
	}
	if err := ValidatePasswordChange("old", "Str0ng!Pass", "Str0ng!Pass"); err != nil {
		t.Fatalf("validate change: %v", err)
	}
	fields = fieldsOf(t, ValidatePasswordChange("", "weak", "weak"))
	if _, ok := fields["currentPassword"]; !ok {
		t.Fatalf("missing currentPassword failure: %v", fields)
	}
	if _, ok := fields["newPassword"]; !ok {
		t.Fatalf("missing newPassword failure: %v", fields)
	}
}
