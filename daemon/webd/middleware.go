package webd

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	ghandlers "github.com/gorilla/handlers"
)

// tokenAuthenticationMiddleware requires Config.Token, when set, as a bearer
// token or an api_token query parameter. Without a configured token every
// request passes.
func (s *WebDaemon) tokenAuthenticationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		validToken := s.Config.Token
		if validToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("api_token")
		}
		if token != validToken {
			s.logger.Warn("Invalid token",
				"method", r.Method, "url", r.URL, "remote", r.RemoteAddr, "user-agent", r.UserAgent())
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware lets any origin read tiles and status and move the camera.
var corsMiddleware = ghandlers.CORS(
	ghandlers.AllowedOrigins([]string{"*"}),
	ghandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
	ghandlers.AllowedHeaders([]string{"Origin", "X-Requested-With", "Content-Type", "Accept", "Authorization"}),
)

func contentTypeMiddlewareFunc(contentType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			next.ServeHTTP(w, r)
		})
	}
}

// writeLog logs one request, Common Log Format fields as slog attributes.
// Tile requests are frequent, so they log at debug level.
func writeLog(_ io.Writer, p ghandlers.LogFormatterParams) {
	host, _, err := net.SplitHostPort(p.Request.RemoteAddr)
	if err != nil {
		host = p.Request.RemoteAddr
	}
	for _, v := range p.Request.Header.Values("X-Forwarded-For") {
		host += "->" + v
	}
	uri := p.Request.RequestURI
	if uri == "" {
		uri = p.URL.RequestURI()
	}
	level := slog.LevelInfo
	if strings.HasPrefix(uri, "/tiles/") && p.StatusCode < 500 {
		level = slog.LevelDebug
	}
	slog.Log(p.Request.Context(), level, "HTTP",
		"remote", host,
		"method", p.Request.Method,
		"uri", uri,
		"proto", p.Request.Proto,
		"status", p.StatusCode,
		"size", p.Size,
	)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return ghandlers.CustomLoggingHandler(io.Discard, next, writeLog)
}
