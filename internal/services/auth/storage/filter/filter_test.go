package filter

import (
	"testing"
	"time"

	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
)

func TestParseUserFilterEmpty(t *testing.T) {
	cond, err := ParseUserFilter("  ", Question, 1)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cond.Clause != "" || len(cond.Params) != 0 {
		t.Fatalf("expected empty condition, got %+v", cond)
	}
}

func TestParseUserFilterDialects(t *testing.T) {
	tests := []struct {
		name       string
		filter     string
		bind       Bind
		first      int
		wantClause string
		wantParams []any
	}{
		{
			name:       "equals sqlite",
			filter:     `role = "admin"`,
			bind:       Question,
			first:      1,
			wantClause: "role = ?",
			wantParams: []any{"admin"},
		},
		{
			name:       "email lower-cased",
			filter:     `email = "Ada@Example.com"`,
			bind:       Dollar,
			first:      1,
			wantClause: "email = $1",
			wantParams: []any{"ada@example.com"},
		},
		{
			name:       "and postgres offset",
			filter:     `role = "user" AND name != "Bob"`,
			bind:       Dollar,
			first:      3,
			wantClause: "(role = $3 AND name != $4)",
			wantParams: []any{"user", "Bob"},
		},
		{
			name:       "or sqlite",
			filter:     `name = "Ada" OR name = "Bob"`,
			bind:       Question,
			first:      1,
			wantClause: "(name = ? OR name = ?)",
			wantParams: []any{"Ada", "Bob"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := ParseUserFilter(tt.filter, tt.bind, tt.first)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if cond.Clause != tt.wantClause {
				t.Fatalf("clause = %q, want %q", cond.Clause, tt.wantClause)
			}
			if len(cond.Params) != len(tt.wantParams) {
				t.Fatalf("params = %v, want %v", cond.Params, tt.wantParams)
			}
			for i := range cond.Params {
				if cond.Params[i] != tt.wantParams[i] {
					t.Fatalf("param %d = %v, want %v", i, cond.Params[i], tt.wantParams[i])
				}
			}
		})
	}
}

func TestParseUserFilterTimestamp(t *testing.T) {
	cond, err := ParseUserFilter(`created_at >= timestamp("2026-01-02T03:04:05Z")`, Question, 1)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cond.Clause != "created_at >= ?" {
		t.Fatalf("clause = %q", cond.Clause)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()
	if len(cond.Params) != 1 || cond.Params[0] != want {
		t.Fatalf("params = %v, want [%d]", cond.Params, want)
	}
}

func TestParseUserFilterRejectsUnknownField(t *testing.T) {
	if _, err := ParseUserFilter(`password_hash = "x"`, Question, 1); err == nil {
		t.Fatal("expected error for undeclared field")
	}
}

func TestDollar(t *testing.T) {
	if got := Dollar(12); got != "$12" {
		t.Fatalf("Dollar(12) = %q", got)
	}
}

func TestParseUserFilterErrorCode(t *testing.T) {
	_, err := ParseUserFilter(`email = `, Question, 1)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if apperrors.GetCode(err) != apperrors.CodeInvalidFilter {
		t.Fatalf("code = %s", apperrors.GetCode(err))
	}
}
