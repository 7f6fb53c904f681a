package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/geo"
	"local.dev/socialdemo-sync/internal/models"
)

type textBody struct {
	Text string `json:"text"`
}

func (s *Server) feed(c *gin.Context) {
	posts, err := s.views.Feed(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	if posts == nil {
		posts = []models.Post{}
	}
	c.JSON(http.StatusOK, posts)
}

func (s *Server) setOrigin(c *gin.Context) {
	var p geo.Point
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, errs.Validation("invalid body: %v", err))
		return
	}
	if err := s.views.SetOrigin(c.Request.Context(), p); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// createPost takes a multipart form with a caption and one or more images.
func (s *Server) createPost(c *gin.Context) {
	form, err := parseForm(c)
	if err != nil {
		abort(c, errs.Validation("parse form: %v", err))
		return
	}
	images, closeAll, err := openUploads(form, "images")
	if err != nil {
		abort(c, errs.Validation("images: %v", err))
		return
	}
	defer closeAll()

	id, err := s.views.CreatePost(c.Request.Context(), c.PostForm("caption"), images)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) like(c *gin.Context) {
	p, err := s.views.ToggleLike(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) dislike(c *gin.Context) {
	p, err := s.views.ToggleDislike(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) comment(c *gin.Context) {
	var body textBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, errs.Validation("invalid body: %v", err))
		return
	}
	cm, err := s.views.AddComment(c.Request.Context(), c.Param("id"), body.Text)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, cm)
}
