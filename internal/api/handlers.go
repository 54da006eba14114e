package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/symposium/internal/database"
	"github.com/npezzotti/symposium/internal/server"
)

type CheckAccessRequest struct {
	Email string `json:"email"`
}

type CheckAccessResponse struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type UpdateAccountRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	AvatarURL string `json:"avatar_url"`
}

func (s *SymposiumApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *SymposiumApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	s.writeJson(w, errResp.StatusCode, errResp)
}

// lookupError maps a repository read error to 404 or 500.
func lookupError(err error) *ApiError {
	if errors.Is(err, sql.ErrNoRows) {
		return NewNotFoundError()
	}

	return NewInternalServerError(err)
}

func (s *SymposiumApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Printf("health check: %v", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *SymposiumApp) checkAccess(w http.ResponseWriter, r *http.Request) {
	var req CheckAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Printf("check access: %v", err)
		s.writeJson(w, http.StatusInternalServerError, CheckAccessResponse{Message: "failed to check access"})
		return
	}

	if strings.TrimSpace(req.Email) == "" {
		s.writeJson(w, http.StatusBadRequest, CheckAccessResponse{Message: "email is required"})
		return
	}

	if !s.allowlist.Allowed(req.Email) {
		s.writeJson(w, http.StatusForbidden, CheckAccessResponse{Message: "email not allowed"})
		return
	}

	s.writeJson(w, http.StatusOK, CheckAccessResponse{Allowed: true})
}

func (s *SymposiumApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	if !s.allowlist.Allowed(req.Email) {
		s.writeError(w, NewNotAllowedError())
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	params := database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(r.Context(), params)
	if err != nil {
		s.log.Printf("create account: %v", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, newUser.ToAPI())
}

func (s *SymposiumApp) account(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := s.db.GetAccountById(r.Context(), userId)
		if err != nil {
			s.writeError(w, lookupError(err))
			return
		}

		s.writeJson(w, http.StatusOK, user.ToAPI())
	case http.MethodPut:
		curUser, err := s.db.GetAccountById(r.Context(), userId)
		if err != nil {
			s.writeError(w, lookupError(err))
			return
		}

		var updateAccountReq UpdateAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&updateAccountReq); err != nil {
			s.writeError(w, NewBadRequestError())
			return
		}

		if updateAccountReq.Username == "" || updateAccountReq.Password == "" {
			s.writeError(w, NewBadRequestError())
			return
		}

		pwdHash, err := hashPassword(updateAccountReq.Password)
		if err != nil {
			s.writeError(w, NewInternalServerError(err))
			return
		}

		params := database.UpdateAccountParams{
			UserId:       curUser.Id,
			Username:     updateAccountReq.Username,
			AvatarURL:    updateAccountReq.AvatarURL,
			PasswordHash: pwdHash,
		}

		dbUser, err := s.db.UpdateAccount(r.Context(), params)
		if err != nil {
			s.log.Printf("update account: %v", err)
			s.writeError(w, NewInternalServerError(err))
			return
		}

		s.writeJson(w, http.StatusOK, dbUser.ToAPI())
	default:
		s.writeError(w, NewMethodNotAllowedError())
	}
}

func (s *SymposiumApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountById(r.Context(), userId)
	if err != nil {
		s.writeError(w, lookupError(err))
		return
	}

	s.writeJson(w, http.StatusOK, user.ToAPI())
}

func (s *SymposiumApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if lr.Email == "" || lr.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	if !s.allowlist.Allowed(lr.Email) {
		s.writeError(w, NewNotAllowedError())
		return
	}

	dbUser, err := s.db.GetAccountByEmail(r.Context(), lr.Email)
	if err != nil {
		s.writeError(w, lookupError(err))
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	u := dbUser.ToAPI()
	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, u)
}

func (s *SymposiumApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one so the browser drops it
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *SymposiumApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountById(r.Context(), id)
	if err != nil {
		s.writeError(w, lookupError(err))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user.ToAPI(), conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
