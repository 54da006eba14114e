package api

import (
	"fmt"
	"net/http"
	"strings"
)

const noStore = "no-store, no-cache, must-revalidate, private"

// errorHandler turns a panicking handler into a 500 and drops the
// connection.
func (s *SymposiumApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}

			err, ok := v.(error)
			if !ok {
				err = fmt.Errorf("%v", v)
			}

			s.log.Printf("panic: %v (%s %s)", err, r.Method, r.URL.Path)
			w.Header().Set("Connection", "close")
			s.writeError(w, NewInternalServerError(err))
		}()

		next.ServeHTTP(w, r)
	})
}

// sessionToken returns the session JWT from the cookie, or from a bearer
// Authorization header for non-browser clients.
func sessionToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, true
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}

	return token, true
}

// authMiddleware rejects requests without a valid session and stores the
// user id in the request context.
func (s *SymposiumApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessionToken(r)
		if !ok {
			s.writeError(w, NewUnauthorizedError())
			return
		}

		userId, err := s.extractUserIdFromToken(token)
		if err != nil {
			s.log.Printf("failed to extract user id from token: %v", err)
			s.writeError(w, NewUnauthorizedError())
			return
		}

		w.Header().Set("Cache-Control", noStore)
		next(w, r.WithContext(WithUserId(r.Context(), userId)))
	}
}
