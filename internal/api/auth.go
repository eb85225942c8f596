package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/beaconlabs/beacon/internal/logger"
)

// apiKeyHeader is the header clients present their key in.
const apiKeyHeader = "X-API-Key"

// authenticateAPIKey guards the administrative routes. The configured secret
// is a SHA-256 hash, so the plaintext key never lives in config or memory
// longer than the comparison, and the compare is constant-time to avoid
// leaking prefix matches.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		log := logger.FromContext(r.Context())

		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Missing API key",
			})
			return
		}

		sum := sha256.Sum256([]byte(key))
		presented := hex.EncodeToString(sum[:])

		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.apiKeyHash)) != 1 {
			log.Warn("rejected request with invalid api key",
				slog.String("path", r.URL.Path),
				slog.String("remote_ip", r.RemoteAddr),
			)
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Invalid API key",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
