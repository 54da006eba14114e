package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/symposium/internal/config"
	"github.com/npezzotti/symposium/internal/database"
	"github.com/npezzotti/symposium/internal/server"
	"github.com/npezzotti/symposium/internal/stats"
	"github.com/npezzotti/symposium/internal/testutil"
	"github.com/npezzotti/symposium/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func testUser(id int) types.User {
	return types.User{Id: id, Username: "user", EmailAddress: "user@example.com"}
}

// findCookie returns the named cookie from the response, or nil.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func jsonBody(t *testing.T, body any) *bytes.Buffer {
	if s, ok := body.(string); ok {
		return bytes.NewBufferString(s)
	}

	raw, err := json.Marshal(body)
	assert.NoError(t, err, "failed to marshal request body")
	return bytes.NewBuffer(raw)
}

func assertApiError(t *testing.T, rr *httptest.ResponseRecorder, expected *ApiError) {
	t.Helper()

	var apiErr ApiError
	err := json.NewDecoder(rr.Body).Decode(&apiErr)
	assert.NoError(t, err, "failed to decode error response")
	assert.Equal(t, expected.StatusCode, rr.Code, "expected status code to match")
	assert.Equal(t, expected.StatusCode, apiErr.StatusCode)
	assert.Equal(t, expected.Message, apiErr.Message)
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)

			mockRepo.On("Ping").Return(tc.mockErr).Once()
			app := newTestApp(t, mockRepo, nil)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func Test_checkAccess(t *testing.T) {
	tcases := []struct {
		name            string
		body            any
		expectedCode    int
		expectedAllowed bool
		expectedMessage string
	}{
		{
			name:            "allowed email",
			body:            CheckAccessRequest{Email: "alice@example.com"},
			expectedCode:    http.StatusOK,
			expectedAllowed: true,
		},
		{
			name:            "allowed domain",
			body:            CheckAccessRequest{Email: "Bob@Corp.com"},
			expectedCode:    http.StatusOK,
			expectedAllowed: true,
		},
		{
			name:            "missing email",
			body:            CheckAccessRequest{Email: "  "},
			expectedCode:    http.StatusBadRequest,
			expectedMessage: "email is required",
		},
		{
			name:            "not allowed",
			body:            CheckAccessRequest{Email: "mallory@evil.com"},
			expectedCode:    http.StatusForbidden,
			expectedMessage: "email not allowed",
		},
		{
			name:            "undecodable body",
			body:            "{not json",
			expectedCode:    http.StatusInternalServerError,
			expectedMessage: "failed to check access",
		},
	}

	app := NewSymposiumApp(http.NewServeMux(), testutil.TestLogger(t), nil, nil, nil, &config.Config{
		AllowedEmails:  []string{"alice@example.com"},
		AllowedDomains: []string{"corp.com"},
	})

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/check", jsonBody(t, tc.body))
			app.checkAccess(rr, req)

			var resp CheckAccessResponse
			assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tc.expectedCode, rr.Code)
			assert.Equal(t, tc.expectedAllowed, resp.Allowed)
			assert.Equal(t, tc.expectedMessage, resp.Message)
		})
	}
}

func TestCreateAccountHandler(t *testing.T) {
	expectedUser := database.User{
		Id:           1,
		Username:     "newuser",
		EmailAddress: "newuser@example.com",
		PasswordHash: "hashedpassword",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	tcases := []struct {
		name        string
		body        any
		allowlist   []string
		mockUser    database.User
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name: "successfully creates a new account",
			body: RegisterRequest{
				Username: expectedUser.Username,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			mockUser: expectedUser,
		},
		{
			name:        "failed with invalid json body",
			body:        "invalid json",
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails with missing username",
			body: RegisterRequest{
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails with missing password",
			body: RegisterRequest{
				Username: expectedUser.Username,
				Email:    expectedUser.EmailAddress,
			},
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails when email is not allowlisted",
			body: RegisterRequest{
				Username: expectedUser.Username,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			allowlist:   []string{"someone@else.com"},
			expectedErr: NewNotAllowedError(),
		},
		{
			name: "fails with db error",
			body: RegisterRequest{
				Username: expectedUser.Username,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.mockUser.Id != 0 || tc.mockErr != nil {
				regReq := tc.body.(RegisterRequest)
				mockRepo.On("CreateAccount", mock.MatchedBy(func(p database.CreateAccountParams) bool {
					return p.Username == regReq.Username &&
						p.EmailAddress == regReq.Email &&
						verifyPassword(p.PasswordHash, regReq.Password)
				})).Return(tc.mockUser, tc.mockErr).Once()
			}

			app := NewSymposiumApp(http.NewServeMux(), testutil.TestLogger(t), nil, mockRepo, nil, &config.Config{
				AllowedEmails: tc.allowlist,
				DevMode:       true,
			})

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, tc.body))
			app.createAccount(rr, req)

			if tc.expectedErr != nil {
				assertApiError(t, rr, tc.expectedErr)
				return
			}

			assert.Equal(t, http.StatusCreated, rr.Code)

			var user types.User
			assert.NoError(t, json.NewDecoder(rr.Body).Decode(&user), "failed to decode response")
			assert.Equal(t, expectedUser.Id, user.Id)
			assert.Equal(t, expectedUser.Username, user.Username)
			assert.Equal(t, expectedUser.EmailAddress, user.EmailAddress)
			assert.NotContains(t, rr.Body.String(), "hashedpassword")
		})
	}
}

func TestAccountHandler_Get(t *testing.T) {
	mockUser := database.User{Id: 1, Username: "testuser", EmailAddress: "testuser@example.com"}

	tcases := []struct {
		name        string
		userId      int
		mockUser    database.User
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:     "success",
			userId:   1,
			mockUser: mockUser,
		},
		{
			name:        "unauthorized",
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "not found",
			userId:      1,
			mockErr:     sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "db error",
			userId:      1,
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.userId > 0 {
				mockRepo.On("GetAccountById", tc.userId).Return(tc.mockUser, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
			if tc.userId > 0 {
				req = req.WithContext(WithUserId(req.Context(), tc.userId))
			}

			rr := httptest.NewRecorder()
			app.account(rr, req)

			if tc.expectedErr != nil {
				assertApiError(t, rr, tc.expectedErr)
				return
			}

			var user types.User
			assert.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, mockUser.Username, user.Username)
		})
	}
}

func TestAccountHandler_Put(t *testing.T) {
	curUser := database.User{Id: 1, Username: "old", EmailAddress: "user@example.com"}
	updated := database.User{Id: 1, Username: "new", EmailAddress: "user@example.com", AvatarURL: "https://example.com/a.png"}

	tcases := []struct {
		name        string
		body        any
		getErr      error
		updateErr   error
		callsUpdate bool
		expectedErr *ApiError
	}{
		{
			name:        "success",
			body:        UpdateAccountRequest{Username: "new", Password: "password", AvatarURL: updated.AvatarURL},
			callsUpdate: true,
		},
		{
			name:        "user not found",
			body:        UpdateAccountRequest{Username: "new", Password: "password"},
			getErr:      sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "invalid json",
			body:        "nope",
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "missing password",
			body:        UpdateAccountRequest{Username: "new"},
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "update fails",
			body:        UpdateAccountRequest{Username: "new", Password: "password"},
			updateErr:   errors.New("db error"),
			callsUpdate: true,
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)

			mockRepo.On("GetAccountById", 1).Return(curUser, tc.getErr).Once()
			if tc.callsUpdate {
				req := tc.body.(UpdateAccountRequest)
				mockRepo.On("UpdateAccount", mock.MatchedBy(func(p database.UpdateAccountParams) bool {
					return p.UserId == 1 &&
						p.Username == req.Username &&
						p.AvatarURL == req.AvatarURL &&
						verifyPassword(p.PasswordHash, req.Password)
				})).Return(updated, tc.updateErr).Once()
			}

			app := newTestApp(t, mockRepo, nil)

			req := httptest.NewRequest(http.MethodPut, "/api/account", jsonBody(t, tc.body))
			req = req.WithContext(WithUserId(req.Context(), 1))

			rr := httptest.NewRecorder()
			app.account(rr, req)

			if tc.expectedErr != nil {
				assertApiError(t, rr, tc.expectedErr)
				return
			}

			var user types.User
			assert.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "new", user.Username)
			assert.Equal(t, updated.AvatarURL, user.AvatarURL)
		})
	}
}

func TestAccountHandler_MethodNotAllowed(t *testing.T) {
	app := newTestApp(t, &database.MockChatRepository{}, nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/account", nil)
	req = req.WithContext(WithUserId(req.Context(), 1))

	rr := httptest.NewRecorder()
	app.account(rr, req)

	assertApiError(t, rr, NewMethodNotAllowedError())
}

func Test_session(t *testing.T) {
	mockUser := database.User{Id: 1, Username: "testuser", EmailAddress: "testuser@example.com"}

	tcases := []struct {
		name        string
		userId      int
		mockErr     error
		expectedErr *ApiError
	}{
		{name: "success", userId: 1},
		{name: "unauthorized", expectedErr: NewUnauthorizedError()},
		{name: "not found", userId: 1, mockErr: sql.ErrNoRows, expectedErr: NewNotFoundError()},
		{name: "db error", userId: 1, mockErr: errors.New("db error"), expectedErr: NewInternalServerError(nil)},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.userId > 0 {
				mockRepo.On("GetAccountById", tc.userId).Return(mockUser, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
			if tc.userId > 0 {
				req = req.WithContext(WithUserId(req.Context(), tc.userId))
			}

			rr := httptest.NewRecorder()
			app.session(rr, req)

			if tc.expectedErr != nil {
				assertApiError(t, rr, tc.expectedErr)
				return
			}

			var user types.User
			assert.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
			assert.Equal(t, mockUser.Id, user.Id)
			assert.Equal(t, mockUser.EmailAddress, user.EmailAddress)
		})
	}
}

func Test_login(t *testing.T) {
	hash, err := hashPassword("password")
	assert.NoError(t, err)

	mockUser := database.User{
		Id:           1,
		Username:     "testuser",
		EmailAddress: "testuser@example.com",
		PasswordHash: hash,
	}

	tcases := []struct {
		name        string
		body        any
		allowlist   []string
		mockUser    database.User
		mockErr     error
		callsDb     bool
		expectedErr *ApiError
	}{
		{
			name:     "success",
			body:     LoginRequest{Email: mockUser.EmailAddress, Password: "password"},
			mockUser: mockUser,
			callsDb:  true,
		},
		{
			name:        "invalid json",
			body:        "bad",
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "missing password",
			body:        LoginRequest{Email: mockUser.EmailAddress},
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "email not allowlisted",
			body:        LoginRequest{Email: mockUser.EmailAddress, Password: "password"},
			allowlist:   []string{"someone@else.com"},
			expectedErr: NewNotAllowedError(),
		},
		{
			name:        "user not found",
			body:        LoginRequest{Email: mockUser.EmailAddress, Password: "password"},
			mockErr:     sql.ErrNoRows,
			callsDb:     true,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "wrong password",
			body:        LoginRequest{Email: mockUser.EmailAddress, Password: "wrong"},
			mockUser:    mockUser,
			callsDb:     true,
			expectedErr: NewUnauthorizedError(),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.callsDb {
				mockRepo.On("GetAccountByEmail", mockUser.EmailAddress).Return(tc.mockUser, tc.mockErr).Once()
			}

			app := NewSymposiumApp(http.NewServeMux(), testutil.TestLogger(t), nil, mockRepo, nil, &config.Config{
				SigningKey:    []byte("test-signing-key"),
				AllowedEmails: tc.allowlist,
				DevMode:       true,
			})

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, tc.body))
			app.login(rr, req)

			if tc.expectedErr != nil {
				assertApiError(t, rr, tc.expectedErr)
				assert.Nil(t, findCookie(rr, tokenCookieKey), "expected no session cookie")
				return
			}

			assert.Equal(t, http.StatusOK, rr.Code)

			cookie := findCookie(rr, tokenCookieKey)
			if assert.NotNil(t, cookie, "expected session cookie") {
				userId, err := app.extractUserIdFromToken(cookie.Value)
				assert.NoError(t, err)
				assert.Equal(t, mockUser.Id, userId)
			}
		})
	}
}

func Test_logout(t *testing.T) {
	app := newTestApp(t, nil, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
	app.logout(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	cookie := findCookie(rr, tokenCookieKey)
	if assert.NotNil(t, cookie, "expected cookie to be overwritten") {
		assert.Empty(t, cookie.Value)
		assert.True(t, cookie.Expires.Before(time.Now()), "expected cookie to be expired")
	}
}

func newTestChatServer(t *testing.T, db database.ChatRepository, su *stats.MockStatsUpdater) *server.ChatServer {
	su.On("RegisterMetric", mock.Anything).Return().Times(len(stats.Metrics))

	cs, err := server.NewChatServer(log.Default(), db, su, nil, nil)
	assert.NoError(t, err, "failed to create chat server")
	return cs
}

func Test_serveWs(t *testing.T) {
	mockUser := database.User{
		Id:           1,
		Username:     "testuser",
		EmailAddress: "testuser@example.com",
		PasswordHash: "examplehash",
	}

	t.Run("successful websocket upgrade and client registration", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.NumActiveClients).Return().Once()
		su.On("Decr", stats.NumActiveClients).Return().Maybe()
		cs := newTestChatServer(t, mockRepo, su)

		mockRepo.On("GetAccountById", mockUser.Id).Return(mockUser, nil).Once()

		app := NewSymposiumApp(http.NewServeMux(), testutil.TestLogger(t), cs, mockRepo, nil, &config.Config{})

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			app.serveWs(w, r.WithContext(WithUserId(r.Context(), 1)))
		}))
		defer srv.Close()

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		defer func() {
			if conn != nil {
				conn.Close()
			}
		}()
		assert.NoError(t, err)
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	})

	t.Run("rejects disallowed origin", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetAccountById", mockUser.Id).Return(mockUser, nil).Once()

		app := NewSymposiumApp(http.NewServeMux(), testutil.TestLogger(t), nil, mockRepo, nil, &config.Config{
			AllowedOrigins: []string{"http://localhost:3000"},
		})

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			app.serveWs(w, r.WithContext(WithUserId(r.Context(), 1)))
		}))
		defer srv.Close()

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		header := http.Header{"Origin": []string{"http://evil.example"}}
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		if conn != nil {
			conn.Close()
		}
		assert.Error(t, err)
		if assert.NotNil(t, resp) {
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		}
	})

	errorTestCases := []struct {
		name        string
		userId      int
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:        "unauthorized user",
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "user not found",
			userId:      1,
			mockErr:     sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "db error",
			userId:      1,
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range errorTestCases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.userId > 0 {
				mockRepo.On("GetAccountById", tc.userId).Return(database.User{}, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo, nil)

			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.userId > 0 {
				req = req.WithContext(WithUserId(req.Context(), tc.userId))
			}

			rr := httptest.NewRecorder()
			app.serveWs(rr, req)

			assertApiError(t, rr, tc.expectedErr)
		})
	}
}
