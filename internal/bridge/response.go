package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Protocol error types reported in-band.
const (
	ErrUnauthorizedUser  = 1
	ErrInvalidJSON       = 2
	ErrResourceNotFound  = 3
	ErrLinkButtonPressed = 101
	ErrActionError       = 608
	ErrInternal          = 901
)

var errorDescriptions = map[int]string{
	ErrUnauthorizedUser:  "unauthorized user",
	ErrInvalidJSON:       "body contains invalid JSON",
	ErrResourceNotFound:  "resource not available",
	ErrLinkButtonPressed: "link button not pressed",
	ErrActionError:       "action error",
	ErrInternal:          "internal error",
}

// APIError is a protocol error. It is sent with HTTP 200 as
// [{"error":{...}}].
type APIError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

// NewAPIError fills in the standard description for typ.
func NewAPIError(typ int, address string) APIError {
	return APIError{Type: typ, Address: address, Description: errorDescriptions[typ]}
}

func (e APIError) Error() string {
	return fmt.Sprintf("hue error %d at %s: %s", e.Type, e.Address, e.Description)
}

// Response is what a route produces. Status 0 means 200.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Handled reports whether any route claimed the request.
func (r Response) Handled() bool {
	return r.Status != http.StatusNotFound
}

// StatusCode returns the HTTP status to send.
func (r Response) StatusCode() int {
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

var notFound = Response{Status: http.StatusNotFound}

// jsonResponse serializes v, leaving out object keys that start with "_".
func jsonResponse(v any) Response {
	data, err := publicJSON(v)
	if err != nil {
		data, _ = json.Marshal([]any{map[string]APIError{"error": NewAPIError(ErrInternal, "")}})
	}
	return Response{ContentType: "application/json", Body: data}
}

func errorResponse(e APIError) Response {
	return jsonResponse([]any{map[string]APIError{"error": e}})
}

func publicJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if !bytes.Contains(data, []byte(`"_`)) {
		return data, nil
	}
	// Only generic maps can carry private keys; re-encoding sorts keys,
	// which only happens for those payloads.
	var generic any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(stripPrivate(generic))
}

func stripPrivate(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if strings.HasPrefix(k, "_") {
				continue
			}
			out[k] = stripPrivate(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stripPrivate(val)
		}
		return out
	default:
		return v
	}
}

// results collects ordered success and error entries for multi-field
// updates.
type results []any

func (r *results) success(path string, value any) {
	*r = append(*r, map[string]any{"success": map[string]any{path: value}})
}

// successMessage appends a plain string success such as "/groups/1 deleted.".
func (r *results) successMessage(msg string) {
	*r = append(*r, map[string]any{"success": msg})
}

func (r *results) fail(e APIError) {
	*r = append(*r, map[string]APIError{"error": e})
}

func (r results) response() Response {
	if r == nil {
		r = results{}
	}
	return jsonResponse([]any(r))
}

func created(id string) Response {
	var r results
	r.success("id", id)
	return r.response()
}

func deleted(path string) Response {
	var r results
	r.successMessage(path + " deleted.")
	return r.response()
}
