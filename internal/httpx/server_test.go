package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"local.dev/socialdemo-sync/internal/client"
	"local.dev/socialdemo-sync/internal/geo"
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/store"
)

var (
	origin    = geo.Point{Lat: 25.0330, Lng: 121.5654}
	pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}
)

type fixture struct {
	srv    *Server
	router *gin.Engine
	ctx    context.Context
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.NewStore()
	accounts := store.NewAccounts(bcrypt.MinCost)
	require.NoError(t, st.SeedIfEmpty(context.Background(), accounts, origin))
	blobs := store.NewLocalBlobs(t.TempDir(), "http://localhost:8080")

	c := client.New(client.Deps{
		Store:   st,
		Auth:    accounts.Session(),
		Blobs:   blobs,
		Locator: geo.NewPushLocator(&origin),
	}, client.Options{MutationTimeout: 2 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv := NewServer(c, blobs.Dir())
	return &fixture{srv: srv, router: srv.Router(), ctx: ctx}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) signIn(t *testing.T, name string) models.User {
	t.Helper()
	rec := f.do(http.MethodPost, "/api/auth/signin", credentials{Email: name + "@example.com", Password: store.DemoPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var u models.User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&u))
	return u
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func multipartBody(t *testing.T, fields map[string]string, fileField string, files int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for i := 0; i < files; i++ {
		fw, err := w.CreateFormFile(fileField, "photo.png")
		require.NoError(t, err)
		_, _ = fw.Write(pngHeader)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHealthAndMetrics(t *testing.T) {
	f := setup(t)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", nil).Code)
	rec := f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "viewsync_")
}

func TestCORSPreflight(t *testing.T) {
	f := setup(t)
	rec := f.do(http.MethodOptions, "/api/feed", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSignInFlow(t *testing.T) {
	f := setup(t)

	info := decode[client.SessionInfo](t, f.do(http.MethodGet, "/api/session", nil))
	assert.Equal(t, "signed_out", info.State)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/feed", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/auth/signin", "not an object").Code)

	rec := f.do(http.MethodPost, "/api/auth/signin", credentials{Email: "alice@example.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "auth", decode[map[string]string](t, rec)["kind"])

	u := f.signIn(t, "alice")
	assert.Equal(t, "alice", u.Username)
	rec = f.do(http.MethodPost, "/api/auth/signin", credentials{Email: "bob@example.com", Password: store.DemoPassword})
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/api/auth/signout", nil).Code)
	info = decode[client.SessionInfo](t, f.do(http.MethodGet, "/api/session", nil))
	assert.Equal(t, "signed_out", info.State)
}

func TestSignUpNeedsAvatar(t *testing.T) {
	f := setup(t)
	fields := map[string]string{"username": "carol", "email": "carol@example.com", "password": "secret1"}

	body, ct := multipartBody(t, fields, "avatar", 0)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = multipartBody(t, fields, "avatar", 1)
	req = httptest.NewRequest(http.MethodPost, "/api/auth/signup", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "carol", decode[models.User](t, rec).Username)
}

func TestFeedEndpoints(t *testing.T) {
	f := setup(t)
	u := f.signIn(t, "alice")

	var posts []models.Post
	require.Eventually(t, func() bool {
		posts = decode[[]models.Post](t, f.do(http.MethodGet, "/api/feed", nil))
		return len(posts) == 4
	}, 3*time.Second, 10*time.Millisecond)

	rec := f.do(http.MethodPost, "/api/posts/"+posts[0].ID+"/like", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.Post](t, rec).LikedBy(u.ID))

	rec = f.do(http.MethodPost, "/api/posts/missing/like", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/posts/"+posts[0].ID+"/comments", textBody{Text: "nice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", decode[models.Comment](t, rec).Username)

	body, ct := multipartBody(t, map[string]string{"caption": "new here"}, "images", 2)
	req := httptest.NewRequest(http.MethodPost, "/api/posts", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		posts = decode[[]models.Post](t, f.do(http.MethodGet, "/api/feed", nil))
		return len(posts) == 5 && posts[0].Caption == "new here" && len(posts[0].ImageURLs) == 2
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/feed/origin", geo.Point{Lat: 120}).Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPut, "/api/feed/origin", geo.Point{Lat: 0, Lng: 0}).Code)
	require.Eventually(t, func() bool {
		return len(decode[[]models.Post](t, f.do(http.MethodGet, "/api/feed", nil))) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestChatEndpoints(t *testing.T) {
	f := setup(t)
	f.signIn(t, "alice")

	var chats []models.ChatSummary
	require.Eventually(t, func() bool {
		chats = decode[[]models.ChatSummary](t, f.do(http.MethodGet, "/api/chats?q=bo", nil))
		return len(chats) == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/chat", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/chats/nope/select", nil).Code)
	require.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/api/chats/"+chats[0].ChatID+"/select", nil).Code)

	rec := f.do(http.MethodPost, "/api/chat", textBody{Text: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		ms := decode[[]models.Message](t, f.do(http.MethodGet, "/api/chat", nil))
		return len(ms) == 2 && ms[1].Text == "hello"
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/chat", textBody{Text: " "}).Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/chat", nil).Code)

	rec = f.do(http.MethodPost, "/api/chats", map[string]string{"peerId": chats[0].ReceiverID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, chats[0].ChatID, decode[map[string]string](t, rec)["chatId"])
}

func TestUserEndpoints(t *testing.T) {
	f := setup(t)
	rec := f.do(http.MethodGet, "/api/users/search?username=bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", decode[models.User](t, rec).Username)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/users/search?username=zed", nil).Code)

	f.signIn(t, "alice")
	rec = f.do(http.MethodGet, "/api/users/online", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.User](t, rec))
}

func TestWebsocketReceivesSessionEvents(t *testing.T) {
	f := setup(t)
	ts := httptest.NewServer(f.router)
	defer ts.Close()
	stop, err := f.srv.Forward(f.ctx)
	require.NoError(t, err)
	defer stop()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return f.srv.Hub().Len() == 1 }, time.Second, 5*time.Millisecond)

	f.signIn(t, "alice")

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var ev client.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.View == client.ViewSession && ev.State == "signed_in" {
			assert.Equal(t, "alice", ev.User.Username)
			return
		}
	}
}
