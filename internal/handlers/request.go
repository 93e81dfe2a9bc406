package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/velvetwardrobe/storefront/internal/platform/httpx"
	"github.com/velvetwardrobe/storefront/internal/platform/requestctx"
)

const maxFormBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func isFormEncoded(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}

// decodeFields reads a JSON object or urlencoded body into flat string fields. JSON numbers
// and booleans keep their literal text; nested values are rejected.
func decodeFields(r *http.Request) (map[string]string, error) {
	body, err := readLimitedBody(r, maxFormBodySize)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string)
	if isFormEncoded(r) {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		for key := range values {
			fields[key] = values.Get(key)
		}
		return fields, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.New("body must be a JSON object")
	}
	for key, value := range raw {
		text, err := scalarText(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		fields[key] = text
	}
	return fields, nil
}

func scalarText(raw json.RawMessage) (string, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", err
	}
	switch v := decoded.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strings.TrimSpace(string(raw)), nil
	default:
		return "", errors.New("must be a string, number or boolean")
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// sessionNamespace returns the storage namespace of the request's session.
func sessionNamespace(ctx context.Context, w http.ResponseWriter) (string, bool) {
	ns := strings.TrimSpace(requestctx.Namespace(ctx))
	if ns == "" {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "a storefront session is required", http.StatusUnauthorized))
		return "", false
	}
	return ns, true
}
