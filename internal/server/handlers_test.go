package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"palaver/internal/auth"
	"palaver/internal/models"
	"palaver/internal/store"
)

var testSecret = []byte("unit-test-secret")

type fakeStore struct {
	createMessageErr error
	createChannelErr error
	deleteChannelErr error

	messages []models.Message
	channels []models.Channel

	lastContent   string
	lastAuthor    models.Identity
	lastChannel   int64
	deletedID     int64
	deletedByUser int64
}

func (f *fakeStore) CreateMessage(_ context.Context, channelID int64, author models.Identity, content string) (models.Message, error) {
	if f.createMessageErr != nil {
		return models.Message{}, f.createMessageErr
	}
	f.lastChannel = channelID
	f.lastAuthor = author
	f.lastContent = content
	return models.Message{
		ID: 7, ChannelID: channelID, UserID: author.UserID, Username: author.Username,
		Content: content, CreatedAt: time.Now(),
	}, nil
}

func (f *fakeStore) RecentMessages(_ context.Context, channelID int64) ([]models.Message, error) {
	f.lastChannel = channelID
	return f.messages, nil
}

func (f *fakeStore) Channels(context.Context) ([]models.Channel, error) {
	return f.channels, nil
}

func (f *fakeStore) CreateChannel(_ context.Context, name string, creator models.Identity) (models.Channel, error) {
	if f.createChannelErr != nil {
		return models.Channel{}, f.createChannelErr
	}
	f.lastAuthor = creator
	return models.Channel{ID: 4, Name: name, CreatedBy: &creator.UserID, CreatedAt: time.Now()}, nil
}

func (f *fakeStore) DeleteChannel(_ context.Context, channelID, requesterID int64) error {
	if f.deleteChannelErr != nil {
		return f.deleteChannelErr
	}
	f.deletedID = channelID
	f.deletedByUser = requesterID
	return nil
}

type fakeRelay struct {
	created []models.Channel
	deleted []int64
}

func (f *fakeRelay) AnnounceChannelCreated(ch models.Channel) { f.created = append(f.created, ch) }
func (f *fakeRelay) AnnounceChannelDeleted(id int64)          { f.deleted = append(f.deleted, id) }

func newTestServer(t *testing.T, st ChatStore, relay Relay) http.Handler {
	t.Helper()
	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	})
	return NewServer("127.0.0.1:0", testSecret, st, relay, ws).Handler()
}

func authedRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()

	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}

	token, err := auth.Sign(testSecret, models.Identity{UserID: 1, Username: "alice"}, time.Minute)
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestCreateMessage(t *testing.T) {
	st := &fakeStore{}
	h := newTestServer(t, st, &fakeRelay{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest(t, "POST", "/api/messages", `{"channelId":3,"content":"  hello  "}`))

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "hello", st.lastContent, "content must be trimmed before persisting")
	require.Equal(t, int64(3), st.lastChannel)
	require.Equal(t, models.Identity{UserID: 1, Username: "alice"}, st.lastAuthor,
		"author comes from the token, never the body")

	var msg models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	require.Equal(t, int64(7), msg.ID)
}

func TestCreateMessageValidation(t *testing.T) {
	cases := map[string]string{
		"empty content":      `{"channelId":3,"content":""}`,
		"whitespace content": `{"channelId":3,"content":"   "}`,
		"too long":           `{"channelId":3,"content":"` + strings.Repeat("a", 2001) + `"}`,
		"missing channel":    `{"content":"hello"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			h := newTestServer(t, &fakeStore{}, &fakeRelay{})
			w := httptest.NewRecorder()
			h.ServeHTTP(w, authedRequest(t, "POST", "/api/messages", body))
			require.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreateMessageMaxLengthAccepted(t *testing.T) {
	st := &fakeStore{}
	h := newTestServer(t, st, &fakeRelay{})

	body := `{"channelId":3,"content":"` + strings.Repeat("a", 2000) + `"}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest(t, "POST", "/api/messages", body))

	require.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateMessageVanishedChannel(t *testing.T) {
	st := &fakeStore{createMessageErr: store.ErrMissingReference}
	h := newTestServer(t, st, &fakeRelay{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest(t, "POST", "/api/messages", `{"channelId":9,"content":"hi"}`))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "no longer exists")
}

func TestCreateMessageRequiresAuth(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, &fakeRelay{})

	r := httptest.NewRequest("POST", "/api/messages", strings.NewReader(`{"channelId":3,"content":"hi"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateMessageMalformedJSON(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, &fakeRelay{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest(t, "POST", "/api/messages", `{"channelId":`))

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMessages(t *testing.T) {
	st := &fakeStore{messages: []models.Message{{ID: 1, Content: "a"}, {ID: 2, Content: "b"}}}
	h := newTestServer(t, st, &fakeRelay{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest(t, "GET", "/api/messages?channel=3", ""))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(3), st.lastChannel)

	var msgs []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
}

func TestListMessagesEmptyIsArray(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, &fakeRelay{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest(t, "GET", "/api/messages?channel=3", ""))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestListMessagesBadChannelParam(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, &fakeRelay{})

	for _, target := range []string{"/api/messages", "/api/messages?channel=abc", "/api/messages?channel=0"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, authedRequest(t, "GET", target, ""))
		require.Equal(t, http.StatusBadRequest, w.Code, "target %s", target)
	}
}

func TestCreateChannelAnnounces(t *testing.T) {
	relay := &fakeRelay{}
	h := newTestServer(t, &fakeStore{}, relay)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest(t, "POST", "/api/channels", `{"name":"random"}`))

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, relay.created, 1)
	require.Equal(t, "random", relay.created[0].Name)
}

func TestCreateChannelValidation(t *testing.T) {
	relay := &fakeRelay{}
	h := newTestServer(t, &fakeStore{}, relay)

	for _, body := range []string{`{"name":""}`, `{"name":"  "}`, `{"name":"` + strings.Repeat("x", 21) + `"}`} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, authedRequest(t, "POST", "/api/channels", body))
		require.Equal(t, http.StatusBadRequest, w.Code, "body %s", body)
	}
	require.Empty(t, relay.created, "rejected channels are never announced")
}

func TestCreateChannelDuplicate(t *testing.T) {
	relay := &fakeRelay{}
	h := newTestServer(t, &fakeStore{createChannelErr: store.ErrChannelExists}, relay)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest(t, "POST", "/api/channels", `{"name":"random"}`))

	require.Equal(t, http.StatusConflict, w.Code)
	require.Empty(t, relay.created)
}

func TestDeleteChannelAnnounces(t *testing.T) {
	st := &fakeStore{}
	relay := &fakeRelay{}
	h := newTestServer(t, st, relay)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest(t, "DELETE", "/api/channels/4", ""))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(4), st.deletedID)
	require.Equal(t, int64(1), st.deletedByUser)
	require.Equal(t, []int64{4}, relay.deleted)
}

func TestDeleteChannelErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", store.ErrChannelNotFound, http.StatusNotFound},
		{"reserved", store.ErrReservedChannel, http.StatusForbidden},
		{"not creator", store.ErrNotCreator, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			relay := &fakeRelay{}
			h := newTestServer(t, &fakeStore{deleteChannelErr: tc.err}, relay)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, authedRequest(t, "DELETE", "/api/channels/4", ""))

			require.Equal(t, tc.code, w.Code)
			require.Empty(t, relay.deleted, "failed deletes are never announced")
		})
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, &fakeRelay{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
}
