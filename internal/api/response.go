package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, errorResponse{Error: message}, status)
}

// respondFailure maps an error onto its HTTP status. External tool failures carry the
// captured tool output as details.
func respondFailure(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	body := errorResponse{Error: message + ": " + err.Error()}

	var toolErr *types.ExternalToolError
	if errors.As(err, &toolErr) {
		body.Details = toolErr.Output
	}
	respondJSON(w, body, status)
}

func statusFor(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, types.ErrPathSecurity):
		return http.StatusForbidden
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrNoMarkdownFound):
		return http.StatusBadRequest
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// hasDotDot reports whether any segment of p is "..", treating backslashes as separators.
func hasDotDot(p string) bool {
	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}

// RejectTraversal answers 403 for any request path with a ".." segment before routing,
// so no handler ever sees one and the mux never redirects it to a cleaned path.
func RejectTraversal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hasDotDot(r.URL.Path) || hasDotDot(r.URL.RawPath) {
			respondError(w, "Invalid path", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractIDFromPath(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}
