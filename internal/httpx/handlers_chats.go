package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/models"
)

func (s *Server) chats(c *gin.Context) {
	list, err := s.views.Chats(c.Request.Context(), c.Query("q"))
	if err != nil {
		abort(c, err)
		return
	}
	if list == nil {
		list = []models.ChatSummary{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) addChat(c *gin.Context) {
	var body struct {
		PeerID string `json:"peerId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, errs.Validation("invalid body: %v", err))
		return
	}
	id, err := s.views.AddChat(c.Request.Context(), body.PeerID)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatId": id})
}

func (s *Server) selectChat(c *gin.Context) {
	if err := s.views.SelectChat(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clearChat(c *gin.Context) {
	if err := s.views.ClearChat(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) messages(c *gin.Context) {
	ms, err := s.views.Messages(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	if ms == nil {
		ms = []models.Message{}
	}
	c.JSON(http.StatusOK, ms)
}

func (s *Server) sendMessage(c *gin.Context) {
	var body textBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, errs.Validation("invalid body: %v", err))
		return
	}
	m, err := s.views.SendMessage(c.Request.Context(), body.Text)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}
