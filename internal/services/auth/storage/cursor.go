package storage

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

// UserCursor is a keyset position in a newest-first user listing.
type UserCursor struct {
	CreatedAt int64
	ID        string
}

// CursorAfter returns the position following u.
func CursorAfter(u user.User) UserCursor {
	return UserCursor{CreatedAt: ToMillis(u.CreatedAt), ID: u.ID}
}

// Encode renders the cursor as an opaque page token.
func (c UserCursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt, 10) + "." + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Time returns the cursor's creation timestamp.
func (c UserCursor) Time() time.Time {
	return FromMillis(c.CreatedAt)
}

// ParseUserCursor decodes a page token produced by Encode.
func ParseUserCursor(token string) (UserCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return UserCursor{}, ErrInvalidPageToken
	}
	millis, id, ok := strings.Cut(string(raw), ".")
	if !ok || id == "" {
		return UserCursor{}, ErrInvalidPageToken
	}
	createdAt, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return UserCursor{}, ErrInvalidPageToken
	}
	return UserCursor{CreatedAt: createdAt, ID: id}, nil
}
