package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/deltaemu/savestated/internal/models"
)

const (
	apiKeyHeader     = "X-API-Key"
	apiKeyQueryParam = "api-key"
)

// Middleware enforces authentication. In open mode all requests pass
// through. Otherwise the key is taken from the X-API-Key header, a bearer
// token, or the api-key query parameter (for EventSource clients). Read-only
// clients may only issue GET and HEAD requests.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsOpenMode() {
			next.ServeHTTP(w, r)
			return
		}

		_, client, ok := s.Lookup(requestKey(r))
		if !ok {
			deny(w, models.ErrUnauthorized("missing or invalid api key"))
			return
		}
		if client.ReadOnly && r.Method != http.MethodGet && r.Method != http.MethodHead {
			deny(w, models.ErrForbidden("api key is read-only"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestKey(r *http.Request) string {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get(apiKeyQueryParam)
}

func deny(w http.ResponseWriter, appErr *models.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)
	_ = json.NewEncoder(w).Encode(appErr)
}
