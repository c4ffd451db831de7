package user

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
	"golang.org/x/text/unicode/norm"
)

const (
	minNameLength         = 2
	maxNameLength         = 100
	minPasswordLength     = 8
	minDiscountCodeLength = 6
	maxDiscountCodeLength = 20
	passwordSpecials      = "@$!%*?&"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z\s]+$`)

const passwordRuleMessage = "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects field failures for one request.
type ValidationErrors []FieldError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

func (v *ValidationErrors) add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

// err wraps the collected failures in a domain error, or returns nil.
func (v ValidationErrors) err() error {
	if len(v) == 0 {
		return nil
	}
	return apperrors.Wrap(apperrors.CodeValidationFailed, "Validation failed", v)
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeName folds compatibility characters (full-width letters and
// similar) into their canonical forms and trims surrounding space.
func NormalizeName(name string) string {
	return strings.TrimSpace(norm.NFKC.String(name))
}

// ValidEmail reports whether email is a bare RFC 5322 address.
func ValidEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " <>") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	if addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// ValidatePasswordStrength enforces the password policy.
func ValidatePasswordStrength(password string) string {
	if len(password) < minPasswordLength {
		return "Password must be at least 8 characters long"
	}
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r) && r < unicode.MaxASCII:
			lower = true
		case unicode.IsUpper(r) && r < unicode.MaxASCII:
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return passwordRuleMessage
	}
	return ""
}

// RegisterInput is the raw registration request.
type RegisterInput struct {
	Email           string
	Name            string
	Password        string
	ConfirmPassword string
	Role            string
	DiscountCode    string
}

// ValidateRegistration checks and normalises a registration request.
func ValidateRegistration(in RegisterInput) (RegisterInput, Role, error) {
	var errs ValidationErrors
	in.Email = NormalizeEmail(in.Email)
	in.Name = NormalizeName(in.Name)
	in.DiscountCode = strings.TrimSpace(in.DiscountCode)

	if !ValidEmail(in.Email) {
		errs.add("email", "Please provide a valid email address")
	}
	if n := len([]rune(in.Name)); n < minNameLength || n > maxNameLength {
		errs.add("name", "Name must be between 2 and 100 characters")
	} else if !namePattern.MatchString(in.Name) {
		errs.add("name", "Name can only contain letters and spaces")
	}
	if msg := ValidatePasswordStrength(in.Password); msg != "" {
		errs.add("password", msg)
	}
	if in.ConfirmPassword != in.Password {
		errs.add("confirmPassword", "Password confirmation does not match password")
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		errs.add("role", "Invalid user role")
	}
	if in.DiscountCode != "" {
		if n := len(in.DiscountCode); n < minDiscountCodeLength || n > maxDiscountCodeLength {
			errs.add("discountCode", "Discount code must be between 6 and 20 characters")
		}
	}
	return in, role, errs.err()
}

// LoginInput is the raw login request.
type LoginInput struct {
	Email    string
	Password string
	Role     string
}

// ValidateLogin checks and normalises a login request.
func ValidateLogin(in LoginInput) (LoginInput, Role, error) {
	var errs ValidationErrors
	in.Email = NormalizeEmail(in.Email)
	if !ValidEmail(in.Email) {
		errs.add("email", "Please provide a valid email address")
	}
	if in.Password == "" {
		errs.add("password", "Password is required")
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		errs.add("role", "Invalid user role")
	}
	return in, role, errs.err()
}

// ValidateResetRequest checks a forgot-password request.
func ValidateResetRequest(email, roleValue string) (string, Role, error) {
	var errs ValidationErrors
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		errs.add("email", "Please provide a valid email address")
	}
	role, err := ParseRole(roleValue)
	if err != nil {
		errs.add("role", "Invalid user role")
	}
	return email, role, errs.err()
}

// ValidateReset checks a reset-password request.
func ValidateReset(token, password, confirm string) error {
	var errs ValidationErrors
	if strings.TrimSpace(token) == "" {
		errs.add("token", "Reset token is required")
	}
	if msg := ValidatePasswordStrength(password); msg != "" {
		errs.add("password", msg)
	}
	if confirm != password {
		errs.add("confirmPassword", "Password confirmation does not match password")
	}
	return errs.err()
}

// ValidatePasswordChange checks a change-password request.
func ValidatePasswordChange(current, next, confirm string) error {
	var errs ValidationErrors
	if current == "" {
		errs.add("currentPassword", "Current password is required")
	}
	if msg := ValidatePasswordStrength(next); msg != "" {
		errs.add("newPassword", msg)
	}
	if confirm != next {
		errs.add("confirmPassword", "Password confirmation does not match new password")
	}
	return errs.err()
}
