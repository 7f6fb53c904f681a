package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"local.dev/socialdemo-sync/internal/client"
	"local.dev/socialdemo-sync/internal/errs"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) session(c *gin.Context) {
	info, err := s.views.State(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// signUp takes a multipart form: username, email, password and an avatar
// file.
func (s *Server) signUp(c *gin.Context) {
	form, err := parseForm(c)
	if err != nil {
		abort(c, errs.Validation("parse form: %v", err))
		return
	}
	avatars, closeAll, err := openUploads(form, "avatar")
	if err != nil {
		abort(c, errs.Validation("avatar: %v", err))
		return
	}
	defer closeAll()

	in := client.SignUpInput{
		Username: c.PostForm("username"),
		Email:    c.PostForm("email"),
		Password: c.PostForm("password"),
	}
	if len(avatars) > 0 {
		in.Avatar = &avatars[0]
	}
	u, err := s.views.SignUp(c.Request.Context(), in)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) signIn(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, errs.Validation("invalid body: %v", err))
		return
	}
	u, err := s.views.SignIn(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) signOut(c *gin.Context) {
	if err := s.views.SignOut(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
