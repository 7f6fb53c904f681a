package client

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/engine"
	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

// Upload is a file picked by the user.
type Upload struct {
	Name        string
	ContentType string
	Data        io.Reader
}

type SignUpInput struct {
	Username string
	Email    string
	Password string
	Avatar   *Upload
}

// SignUp validates the form, checks the username is free, uploads the
// avatar and creates the account with its user and chat index documents.
// The new account is not signed in.
func (c *Client) SignUp(ctx context.Context, in SignUpInput) (models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	switch {
	case in.Username == "" || in.Email == "" || in.Password == "":
		return models.User{}, errs.Validation("username, email and password are required")
	case in.Avatar == nil || in.Avatar.Data == nil:
		return models.User{}, errs.Validation("please upload an avatar")
	}

	taken, err := c.deps.Store.Query(ctx, remote.Query{Collection: remote.Users}.Where("username", "==", in.Username))
	if err != nil {
		return models.User{}, errs.Classify(err, "check username")
	}
	if len(taken) > 0 {
		return models.User{}, errs.ErrDuplicateUsername
	}

	avatar, err := c.upload(ctx, "avatars", *in.Avatar)
	if err != nil {
		return models.User{}, err
	}
	uid, err := c.deps.Auth.SignUp(ctx, in.Email, in.Password)
	if err != nil {
		return models.User{}, err
	}
	u := models.User{ID: uid, Username: in.Username, Email: in.Email, Avatar: avatar, Blocked: []string{}}
	if err := c.deps.Store.Set(ctx, remote.Doc(remote.Users, uid), models.UserDoc(u), false); err != nil {
		return models.User{}, errs.Classify(err, "create profile")
	}
	if err := c.deps.Store.Set(ctx, remote.Doc(remote.UserChats, uid), models.ChatIndexDoc(nil), false); err != nil {
		return models.User{}, errs.Classify(err, "create chat index")
	}
	jww.INFO.Printf("account %s created for %s", uid, in.Username)
	return u, nil
}

// upload stores one file under dir/<unix ms>_<name> and returns its URL.
func (c *Client) upload(ctx context.Context, dir string, f Upload) (string, error) {
	if c.deps.Blobs == nil {
		return "", errs.Validation("uploads are not configured")
	}
	name := f.Name
	if name == "" {
		name = "upload"
	}
	path := fmt.Sprintf("%s/%d_%s", dir, time.Now().UnixMilli(), name)
	ref, err := c.deps.Blobs.Upload(ctx, path, f.Data, f.ContentType)
	if err != nil {
		if errs.KindOf(err) == errs.KindValidation {
			return "", err
		}
		return "", errs.Classify(err, "upload "+name)
	}
	url, err := c.deps.Blobs.PublicURL(ctx, ref)
	if err != nil {
		return "", errs.Classify(err, "resolve "+ref.Path)
	}
	return url, nil
}

// SignIn checks the credential, then loads the profile. The session is
// Loading in between and SignedIn once the profile is known.
func (c *Client) SignIn(ctx context.Context, email, password string) (models.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return models.User{}, errs.Validation("email and password are required")
	}
	if err := c.call(ctx, func() error {
		if c.coord.State() != engine.SignedOut {
			return errors.Wrap(errs.ErrInvalidTransition, "already signed in")
		}
		return nil
	}); err != nil {
		return models.User{}, err
	}

	c.signingIn.Store(true)
	defer c.signingIn.Store(false)
	sess, err := c.deps.Auth.SignIn(ctx, email, password)
	if err != nil {
		if errs.KindOf(err) == errs.KindAuth {
			return models.User{}, err
		}
		return models.User{}, errs.Classify(err, "sign in")
	}
	return c.loadSession(ctx, sess)
}

// onAuthSession handles session changes the client did not start itself:
// a restored session at startup or an expired one.
func (c *Client) onAuthSession(s *remote.Session) {
	switch {
	case s != nil && c.coord.State() == engine.SignedOut && !c.signingIn.Load():
		jww.INFO.Printf("restoring session for %s", s.UserID)
		sess := *s
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.MutationTimeout)
			defer cancel()
			if _, err := c.loadSession(ctx, sess); err != nil {
				jww.WARN.Printf("restore session: %v", err)
			}
		}()
	case s == nil && c.coord.State() == engine.SignedIn:
		jww.INFO.Println("session ended remotely")
		_ = c.coord.SignOut()
	}
}

func (c *Client) loadSession(ctx context.Context, sess remote.Session) (models.User, error) {
	if err := c.call(ctx, c.coord.BeginLoading); err != nil {
		return models.User{}, err
	}

	u, err := c.fetchProfile(ctx, sess.UserID)
	if err != nil {
		_ = c.call(context.Background(), func() error { return c.coord.FailLoading(err) })
		if serr := c.deps.Auth.SignOut(context.Background()); serr != nil {
			jww.WARN.Printf("sign out after failed load: %v", serr)
		}
		return models.User{}, err
	}

	presenceErr := c.setPresence(ctx, u.ID, true)
	if presenceErr == nil {
		u.IsOnline = true
	}
	err = c.call(context.Background(), func() error {
		if err := c.coord.CompleteLoading(u); err != nil {
			return err
		}
		if presenceErr != nil {
			c.notice(presenceErr)
		}
		return nil
	})
	return u, err
}

func (c *Client) fetchProfile(ctx context.Context, uid string) (models.User, error) {
	rec, err := c.deps.Store.Get(ctx, remote.Doc(remote.Users, uid))
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return models.User{}, errors.WithMessagef(err, "no profile for account %s", uid)
		}
		return models.User{}, errs.Classify(err, "load profile")
	}
	return models.DecodeUser(rec)
}

func (c *Client) setPresence(ctx context.Context, uid string, online bool) error {
	err := c.deps.Store.Set(ctx, remote.Doc(remote.Users, uid), map[string]any{"isOnline": online}, true)
	return errs.Classify(err, "update presence")
}

// SignOut marks the user offline, ends the auth session and releases every
// view. Chat subscriptions go first, then the session ones, and only then
// is SignedOut reported.
func (c *Client) SignOut(ctx context.Context) error {
	var uid string
	if err := c.call(ctx, func() error {
		u, err := c.requireUser()
		uid = u.ID
		return err
	}); err != nil {
		return err
	}

	if err := c.setPresence(ctx, uid, false); err != nil {
		_ = c.call(ctx, func() error { c.notice(err); return nil })
	}
	if err := c.deps.Auth.SignOut(ctx); err != nil {
		return errs.Classify(err, "sign out")
	}
	return c.call(context.Background(), func() error {
		if c.coord.State() == engine.SignedIn {
			return c.coord.SignOut()
		}
		return nil
	})
}
