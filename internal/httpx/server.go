// Package httpx exposes one Client's views over HTTP and pushes its view
// events to websocket subscribers.
package httpx

import (
	"context"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"local.dev/socialdemo-sync/internal/client"
	"local.dev/socialdemo-sync/internal/geo"
	"local.dev/socialdemo-sync/internal/models"
)

const (
	maxBodyBytes = 20 << 20
	maxFormBytes = 25 << 20
)

// Views is the part of client.Client the gateway serves.
type Views interface {
	State(ctx context.Context) (client.SessionInfo, error)
	Events(ctx context.Context, fn func(client.Event)) (func(), error)

	SignUp(ctx context.Context, in client.SignUpInput) (models.User, error)
	SignIn(ctx context.Context, email, password string) (models.User, error)
	SignOut(ctx context.Context) error

	Feed(ctx context.Context) ([]models.Post, error)
	SetOrigin(ctx context.Context, p geo.Point) error
	CreatePost(ctx context.Context, caption string, images []client.Upload) (string, error)
	ToggleLike(ctx context.Context, postID string) (models.Post, error)
	ToggleDislike(ctx context.Context, postID string) (models.Post, error)
	AddComment(ctx context.Context, postID, text string) (models.Comment, error)

	Chats(ctx context.Context, filter string) ([]models.ChatSummary, error)
	AddChat(ctx context.Context, peerID string) (string, error)
	SelectChat(ctx context.Context, chatID string) error
	ClearChat(ctx context.Context) error
	Messages(ctx context.Context) ([]models.Message, error)
	SendMessage(ctx context.Context, text string) (models.Message, error)

	OnlineUsers(ctx context.Context) ([]models.User, error)
	SearchUser(ctx context.Context, username string) (models.User, error)
}

type Server struct {
	views      Views
	hub        *Hub
	uploadsDir string
}

// NewServer serves views. Files under uploadsDir are published at
// /uploads when it is not empty.
func NewServer(views Views, uploadsDir string) *Server {
	return &Server{views: views, hub: NewHub(), uploadsDir: uploadsDir}
}

func (s *Server) Hub() *Hub { return s.hub }

// Forward pushes every view event to the websocket hub until stop is
// called.
func (s *Server) Forward(ctx context.Context) (stop func(), err error) {
	return s.views.Events(ctx, s.hub.Broadcast)
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), AccessLog(), CORS())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.uploadsDir != "" {
		r.Static("/uploads", s.uploadsDir)
	}
	r.GET("/ws", s.hub.Serve)

	api := r.Group("/api")
	api.GET("/session", s.session)
	api.POST("/auth/signup", s.signUp)
	api.POST("/auth/signin", s.signIn)
	api.POST("/auth/signout", s.signOut)

	api.GET("/feed", s.feed)
	api.PUT("/feed/origin", s.setOrigin)
	api.POST("/posts", s.createPost)
	api.POST("/posts/:id/like", s.like)
	api.POST("/posts/:id/dislike", s.dislike)
	api.POST("/posts/:id/comments", s.comment)

	api.GET("/chats", s.chats)
	api.POST("/chats", s.addChat)
	api.POST("/chats/:id/select", s.selectChat)
	api.GET("/chat", s.messages)
	api.POST("/chat", s.sendMessage)
	api.DELETE("/chat", s.clearChat)

	api.GET("/users/online", s.onlineUsers)
	api.GET("/users/search", s.searchUser)
	return r
}

// parseForm reads a multipart body within the upload limits.
func parseForm(c *gin.Context) (*multipart.Form, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.Request.ParseMultipartForm(maxFormBytes); err != nil {
		return nil, err
	}
	return c.Request.MultipartForm, nil
}

// openUploads opens every file of field. The caller closes them.
func openUploads(form *multipart.Form, field string) ([]client.Upload, func(), error) {
	var closers []multipart.File
	closeAll := func() {
		for _, f := range closers {
			_ = f.Close()
		}
	}
	var out []client.Upload
	for _, fh := range form.File[field] {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, f)
		out = append(out, client.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        f,
		})
	}
	return out, closeAll, nil
}
