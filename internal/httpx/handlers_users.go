package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"local.dev/socialdemo-sync/internal/models"
)

func (s *Server) onlineUsers(c *gin.Context) {
	us, err := s.views.OnlineUsers(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	if us == nil {
		us = []models.User{}
	}
	c.JSON(http.StatusOK, us)
}

func (s *Server) searchUser(c *gin.Context) {
	u, err := s.views.SearchUser(c.Request.Context(), c.Query("username"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
