package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
)

// secretFields are dropped from logs entirely. Matching is by substring on the
// lowercased key.
var secretFields = []string{
	"password",
	"token",
	"authorization",
	"secret",
	"api_key",
	"credential",
	"signature",
	"ticket",
	"access_code",
	"authorization_url",
	"cookie",
}

// contactFields identify payers and listing owners; they are masked so logs can
// still be correlated with a support request.
var contactFields = []string{
	"email",
	"phone",
}

// maxLoggedBody caps how much of a request or response body is buffered for logging.
const maxLoggedBody = 64 << 10

const (
	filtered  = "[FILTERED]"
	truncated = "[TRUNCATED]"
)

func LoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())

			logRequest(logger, r, reqID)

			ww := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(ww, r)

			logResponse(logger, r, ww, time.Since(start), reqID)
		})
	}
}

// responseWriter records the status, size and the start of the body.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
	body       bytes.Buffer
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - rw.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		rw.body.Write(b[:room])
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func logRequest(logger *slog.Logger, r *http.Request, reqID string) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		body, _ = io.ReadAll(io.LimitReader(r.Body, maxLoggedBody))
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
	}

	logged := redactBody(r.Header.Get("Content-Type"), body)
	if len(body) == maxLoggedBody {
		logged = truncated
	}

	logger.InfoContext(r.Context(), "incoming request",
		"request_id", reqID,
		"method", r.Method,
		"path", r.URL.Path,
		"query", redactQuery(r.URL.Query()),
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"headers", redactHeaders(r.Header),
		"body", logged,
	)
}

func logResponse(logger *slog.Logger, r *http.Request, rw *responseWriter, duration time.Duration, reqID string) {
	status := rw.statusCode
	if status == 0 {
		status = http.StatusOK
	}

	level := slog.LevelInfo
	switch {
	case status >= http.StatusInternalServerError:
		level = slog.LevelError
	case status >= http.StatusBadRequest:
		level = slog.LevelWarn
	}

	attrs := []any{
		"request_id", reqID,
		"method", r.Method,
		"path", r.URL.Path,
		"status_code", status,
		"duration_ms", duration.Milliseconds(),
		"response_size", rw.size,
	}
	// payment callbacks answer with redirects that carry the outcome
	if loc := rw.Header().Get("Location"); loc != "" {
		attrs = append(attrs, "location", redactURL(loc))
	}
	if body := redactBody(rw.Header().Get("Content-Type"), rw.body.Bytes()); body != "" {
		attrs = append(attrs, "body", body)
	}

	logger.Log(r.Context(), level, "response", attrs...)
}

func isSecret(key string) bool {
	return containsAny(strings.ToLower(key), secretFields)
}

func isContact(key string) bool {
	return containsAny(strings.ToLower(key), contactFields)
}

func containsAny(s string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// maskContact keeps the first character and, for emails, the domain.
func maskContact(v string) string {
	if v == "" {
		return v
	}
	if at := strings.LastIndex(v, "@"); at > 0 {
		return v[:1] + "***" + v[at:]
	}
	if len(v) <= 4 {
		return "***"
	}
	return "***" + v[len(v)-4:]
}

func redactValue(key, value string) string {
	switch {
	case isSecret(key):
		return filtered
	case isContact(key):
		return maskContact(value)
	default:
		return value
	}
}

func redactHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if isSecret(name) {
			out[name] = filtered
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func redactQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	out := make(url.Values, len(values))
	for key, vs := range values {
		for _, v := range vs {
			out.Add(key, redactValue(key, v))
		}
	}
	return out.Encode()
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return filtered
	}
	u.RawQuery = redactQuery(u.Query())
	return u.String()
}

// redactBody renders JSON and form bodies with secrets removed and contacts
// masked. HTML pages are not logged.
func redactBody(contentType string, body []byte) string {
	if len(body) == 0 {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "text/html":
		return ""
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return filtered
		}
		return redactQuery(values)
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		if containsAny(strings.ToLower(string(body)), secretFields) {
			return "[FILTERED - Contains sensitive data]"
		}
		return string(body)
	}

	out, err := json.Marshal(redactJSON(data))
	if err != nil {
		return "[ERROR - Failed to marshal filtered JSON]"
	}
	return string(out)
}

func redactJSON(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			switch {
			case isSecret(key):
				out[key] = filtered
			case isContact(key):
				if s, ok := value.(string); ok {
					out[key] = maskContact(s)
				} else {
					out[key] = redactJSON(value)
				}
			default:
				out[key] = redactJSON(value)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = redactJSON(item)
		}
		return out
	default:
		return v
	}
}
