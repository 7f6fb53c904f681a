package firebase

import (
	"context"
	"sync"

	"firebase.google.com/go/v4/auth"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/remote"
)

// Auth is remote.Auth for one local client. Accounts are created with the
// Admin SDK; password sign-in goes through the Identity Toolkit REST API
// and restored tokens are checked with VerifyIDToken.
type Auth struct {
	admin    *auth.Client
	toolkit  *identitytoolkit.Service
	mu       sync.Mutex
	current  *remote.Session
	watchers map[int]func(*remote.Session)
	next     int
}

func NewAuth(admin *auth.Client, toolkit *identitytoolkit.Service) *Auth {
	return &Auth{admin: admin, toolkit: toolkit, watchers: map[int]func(*remote.Session){}}
}

func (a *Auth) SignUp(ctx context.Context, email, password string) (string, error) {
	u, err := a.admin.CreateUser(ctx, (&auth.UserToCreate{}).Email(email).Password(password))
	if err != nil {
		switch {
		case auth.IsEmailAlreadyExists(err):
			return "", errs.Auth("email already in use")
		case isBadRequest(err):
			return "", errors.WithMessage(errs.ErrValidation, err.Error())
		}
		return "", errs.Classify(err, "create user")
	}
	return u.UID, nil
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (remote.Session, error) {
	if a.toolkit == nil {
		return remote.Session{}, errs.Auth("password sign-in needs FIREBASE_API_KEY")
	}
	resp, err := a.toolkit.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		if isBadRequest(err) {
			return remote.Session{}, errs.Auth("invalid email or password")
		}
		return remote.Session{}, errs.Classify(err, "verify password")
	}
	sess := remote.Session{UserID: resp.LocalId, Email: resp.Email, IDToken: resp.IdToken}
	a.set(&sess)
	return sess, nil
}

// Restore resumes a session from a stored ID token.
func (a *Auth) Restore(ctx context.Context, idToken string) error {
	tok, err := a.admin.VerifyIDToken(ctx, idToken)
	if err != nil {
		jww.INFO.Printf("stored session rejected: %v", err)
		return errs.Auth("session expired")
	}
	email, _ := tok.Claims["email"].(string)
	a.set(&remote.Session{UserID: tok.UID, Email: email, IDToken: idToken})
	return nil
}

func (a *Auth) SignOut(context.Context) error {
	a.set(nil)
	return nil
}

func (a *Auth) OnSessionChange(fn func(*remote.Session)) func() {
	a.mu.Lock()
	a.next++
	id := a.next
	a.watchers[id] = fn
	cur := a.current
	a.mu.Unlock()
	fn(cur)
	return func() {
		a.mu.Lock()
		delete(a.watchers, id)
		a.mu.Unlock()
	}
}

func (a *Auth) set(s *remote.Session) {
	a.mu.Lock()
	a.current = s
	fns := make([]func(*remote.Session), 0, len(a.watchers))
	for _, fn := range a.watchers {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func isBadRequest(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 400
	}
	return false
}
