package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// maxContentLength rejects requests by declared size before reading.
	maxContentLength = 1 << 20
	// maxBodyBytes caps how much of a body the decoder will read.
	maxBodyBytes = 10 << 20
)

var (
	errBodyTooLarge = apperrors.New(apperrors.CodeBodyTooLarge, "Request entity too large")
	errInvalidBody  = apperrors.New(apperrors.CodeInvalidBody, "Invalid JSON body")
)

// sanitizeString drops markup from s, including the contents of script
// elements, and trims the remaining text.
func sanitizeString(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(s)
	}
	var out strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	inScript := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(out.String())
		case html.TextToken:
			if !inScript {
				out.Write(z.Raw())
			}
		case html.StartTagToken:
			if name, _ := z.TagName(); atom.Lookup(name) == atom.Script {
				inScript = true
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); atom.Lookup(name) == atom.Script {
				inScript = false
			}
		}
	}
}

// sanitizeValue walks a decoded JSON value and sanitizes every string.
func sanitizeValue(v any) any {
	switch typed := v.(type) {
	case string:
		return sanitizeString(typed)
	case map[string]any:
		for k, item := range typed {
			typed[k] = sanitizeValue(item)
		}
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = sanitizeValue(item)
		}
		return typed
	default:
		return v
	}
}

// decodeJSON reads a JSON object body into dst with every string field
// sanitized. An empty body decodes as an empty object.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return apperrors.Wrap(errInvalidBody.Code, errInvalidBody.Message, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return apperrors.Wrap(errInvalidBody.Code, errInvalidBody.Message, err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return errInvalidBody
	}
	clean, err := json.Marshal(sanitizeValue(raw))
	if err != nil {
		return apperrors.Wrap(errInvalidBody.Code, errInvalidBody.Message, err)
	}
	if err := json.Unmarshal(clean, dst); err != nil {
		return apperrors.Wrap(errInvalidBody.Code, errInvalidBody.Message, err)
	}
	return nil
}
