package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/chatwire/chatwire/internal/config"
	"github.com/chatwire/chatwire/internal/server"
	"github.com/chatwire/chatwire/internal/stats"
	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/testutil"
	"github.com/chatwire/chatwire/internal/types"
)

type nopValidator struct{}

func (nopValidator) Validate(string) (types.User, error) {
	return types.User{}, errors.New("no credentials")
}

type nopNotifier struct{}

func (nopNotifier) Push(server.Notification) error { return nil }

func newTestApp(t *testing.T, db store.Repository) *App {
	t.Helper()

	cs, err := server.NewChatServer(testutil.TestLogger(t), db, stats.NopUpdater{}, nopValidator{}, nopNotifier{})
	if err != nil {
		t.Fatalf("failed to create chat server: %v", err)
	}

	cfg := &config.Config{
		ServerAddr:     "localhost:8000",
		AllowedOrigins: []string{"http://localhost:3000"},
		SigningKey:     []byte("test-signing-key"),
	}

	return NewApp(http.NewServeMux(), testutil.TestLogger(t), cs, db, cfg)
}

func Test_createAccount(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db := &store.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateAccount", mock.MatchedBy(func(p store.CreateAccountParams) bool {
			// the password never travels in the clear
			return p.Username == "alice" && p.PasswordHash != "password123"
		})).Return(store.User{Id: 1, Username: "alice", EmailAddress: "alice@example.com"}, nil)

		s := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/register",
			strings.NewReader(`{"email":"alice@example.com","username":"alice","password":"password123"}`))
		rr := httptest.NewRecorder()
		s.createAccount(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var u types.User
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
		assert.Equal(t, 1, u.Id)
		assert.Equal(t, "alice", u.Username)
	})

	t.Run("invalid body", func(t *testing.T) {
		s := newTestApp(t, &store.MockRepository{})

		for name, body := range map[string]string{
			"malformed json": `{`,
			"bad email":      `{"email":"not-an-email","username":"alice","password":"password123"}`,
			"short password": `{"email":"alice@example.com","username":"alice","password":"pw"}`,
		} {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
			rr := httptest.NewRecorder()
			s.createAccount(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code, name)
		}
	})
}

func Test_login(t *testing.T) {
	pwdHash, err := hashPassword("password123")
	assert.NoError(t, err)

	t.Run("success sets the session cookie", func(t *testing.T) {
		db := &store.MockRepository{}
		db.On("GetAccountByEmail", "alice@example.com").
			Return(store.User{Id: 1, Username: "alice", EmailAddress: "alice@example.com", PasswordHash: pwdHash}, nil)

		s := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"alice@example.com","password":"password123"}`))
		rr := httptest.NewRecorder()
		s.login(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		cookies := rr.Result().Cookies()
		if assert.Len(t, cookies, 1) {
			assert.Equal(t, tokenCookieKey, cookies[0].Name)
			assert.NotEmpty(t, cookies[0].Value)
			assert.True(t, cookies[0].HttpOnly)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		db := &store.MockRepository{}
		db.On("GetAccountByEmail", "alice@example.com").
			Return(store.User{Id: 1, PasswordHash: pwdHash}, nil)

		s := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"alice@example.com","password":"nope-nope"}`))
		rr := httptest.NewRecorder()
		s.login(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, rr.Result().Cookies())
	})

	t.Run("unknown account", func(t *testing.T) {
		db := &store.MockRepository{}
		db.On("GetAccountByEmail", "ghost@example.com").Return(store.User{}, sql.ErrNoRows)

		s := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"ghost@example.com","password":"password123"}`))
		rr := httptest.NewRecorder()
		s.login(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_session(t *testing.T) {
	db := &store.MockRepository{}
	db.On("GetAccountById", 1).Return(store.User{Id: 1, Username: "alice"}, nil)

	s := newTestApp(t, db)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req = req.WithContext(WithUserId(req.Context(), 1))
	rr := httptest.NewRecorder()
	s.session(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var u types.User
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
	assert.Equal(t, "alice", u.Username)
}

func Test_logout(t *testing.T) {
	s := newTestApp(t, &store.MockRepository{})

	rr := httptest.NewRecorder()
	s.logout(rr, httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)

	cookies := rr.Result().Cookies()
	if assert.Len(t, cookies, 1) {
		assert.Empty(t, cookies[0].Value)
	}
}

func Test_createRoom(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db := &store.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateRoom", mock.MatchedBy(func(p store.CreateRoomParams) bool {
			return p.Name == "general" && p.OwnerId == 1 && p.ExternalId != ""
		})).Return(store.Room{Id: 10, ExternalId: "abc123", Name: "general", OwnerId: 1}, nil)

		s := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodPost, "/api/rooms",
			strings.NewReader(`{"name":"general","description":"the watercooler"}`))
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		s.createRoom(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var room types.Room
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&room))
		assert.Equal(t, "abc123", room.ExternalId)
	})

	t.Run("missing name", func(t *testing.T) {
		s := newTestApp(t, &store.MockRepository{})

		req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(`{"description":"x"}`))
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		s.createRoom(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_deleteRoom(t *testing.T) {
	t.Run("owner deletes", func(t *testing.T) {
		db := &store.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomByExternalId", "abc123").
			Return(store.Room{Id: 10, ExternalId: "abc123", OwnerId: 1}, nil)
		db.On("DeleteRoom", 10).Return(nil).Once()

		s := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodDelete, "/api/rooms?id=abc123", nil)
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		s.deleteRoom(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		db := &store.MockRepository{}
		db.On("GetRoomByExternalId", "abc123").
			Return(store.Room{Id: 10, ExternalId: "abc123", OwnerId: 1}, nil)

		s := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodDelete, "/api/rooms?id=abc123", nil)
		req = req.WithContext(WithUserId(req.Context(), 2))
		rr := httptest.NewRecorder()
		s.deleteRoom(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		db.AssertNotCalled(t, "DeleteRoom", mock.Anything)
	})
}

func Test_getMessages(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db := &store.MockRepository{}
		db.On("GetRoomByExternalId", "abc123").
			Return(store.Room{Id: 10, ExternalId: "abc123"}, nil)
		db.On("GetMessages", 10, 0, 5, 50).Return([]store.Message{
			{SeqId: 3, RoomId: 10, UserId: 1, Content: "hello"},
			{SeqId: 4, RoomId: 10, UserId: 2, Content: "hi"},
		}, nil)

		s := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodGet, "/api/messages?room_id=abc123&before=5&limit=50", nil)
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		s.getMessages(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var msgs []types.Message
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&msgs))
		if assert.Len(t, msgs, 2) {
			assert.Equal(t, "abc123", msgs[0].RoomId)
			assert.Equal(t, 3, msgs[0].SeqId)
		}
	})

	t.Run("missing room id", func(t *testing.T) {
		s := newTestApp(t, &store.MockRepository{})

		rr := httptest.NewRecorder()
		s.getMessages(rr, httptest.NewRequest(http.MethodGet, "/api/messages", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("bad pagination", func(t *testing.T) {
		db := &store.MockRepository{}
		db.On("GetRoomByExternalId", "abc123").Return(store.Room{Id: 10}, nil)

		s := newTestApp(t, db)

		rr := httptest.NewRecorder()
		s.getMessages(rr, httptest.NewRequest(http.MethodGet, "/api/messages?room_id=abc123&limit=lots", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_getUsersMemberships(t *testing.T) {
	db := &store.MockRepository{}
	db.On("ListMemberships", 1).Return([]store.Membership{
		{Id: 5, LastReadSeqId: 7, Room: store.Room{Id: 10, ExternalId: "abc123", Name: "general", SeqId: 9}},
	}, nil)

	s := newTestApp(t, db)

	req := httptest.NewRequest(http.MethodGet, "/api/memberships", nil)
	req = req.WithContext(WithUserId(req.Context(), 1))
	rr := httptest.NewRecorder()
	s.getUsersMemberships(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var subs []types.Subscription
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&subs))
	if assert.Len(t, subs, 1) {
		assert.Equal(t, 7, subs[0].LastReadSeqId)
		assert.Equal(t, "abc123", subs[0].Room.ExternalId)
	}
}
