package store

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"golang.org/x/crypto/bcrypt"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/remote"
)

const minPasswordLen = 6

type account struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Hash  []byte `json:"hash"`
}

// Accounts is the credential registry of local mode. Each client signs in
// through its own MemoryAuth.
type Accounts struct {
	mu      sync.RWMutex
	byEmail map[string]account
	tokens  map[string]string // id token -> uid
	cost    int
	file    string
}

// NewAccounts uses bcrypt.DefaultCost when cost is not positive.
func NewAccounts(cost int) *Accounts {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Accounts{byEmail: map[string]account{}, tokens: map[string]string{}, cost: cost}
}

// Load reads accounts from path and keeps saving registrations to it.
func (a *Accounts) Load(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.file = path
	var on map[string]account
	if err := readJSONFile(path, &on); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "load %s", path)
	}
	for k, v := range on {
		a.byEmail[k] = v
	}
	return nil
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Register creates an account and returns its uid.
func (a *Accounts) Register(email, password string) (string, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return "", errs.Validation("invalid email %q", email)
	}
	if len(password) < minPasswordLen {
		return "", errs.Validation("password must be at least %d characters", minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.byEmail[email]; ok {
		return "", errs.Auth("email already in use")
	}
	acc := account{UID: newID(), Email: email, Hash: hash}
	a.byEmail[email] = acc
	if a.file != "" {
		if err := writeJSONFile(a.file, a.byEmail); err != nil {
			jww.ERROR.Printf("persist %s: %v", a.file, err)
		}
	}
	return acc.UID, nil
}

// Verify checks a credential and issues a session token.
func (a *Accounts) Verify(email, password string) (remote.Session, error) {
	a.mu.RLock()
	acc, ok := a.byEmail[normalizeEmail(email)]
	a.mu.RUnlock()
	if !ok {
		return remote.Session{}, errs.Auth("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword(acc.Hash, []byte(password)); err != nil {
		return remote.Session{}, errs.Auth("invalid email or password")
	}
	token := uuid.NewString()
	a.mu.Lock()
	a.tokens[token] = acc.UID
	a.mu.Unlock()
	return remote.Session{UserID: acc.UID, Email: acc.Email, IDToken: token}, nil
}

// Revoke invalidates a token.
func (a *Accounts) Revoke(token string) {
	a.mu.Lock()
	delete(a.tokens, token)
	a.mu.Unlock()
}

// Lookup resolves a live token.
func (a *Accounts) Lookup(token string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	uid, ok := a.tokens[token]
	return uid, ok
}

// Session returns a fresh signed-out auth session over a.
func (a *Accounts) Session() *MemoryAuth {
	return &MemoryAuth{accounts: a, watchers: map[int]func(*remote.Session){}}
}

// MemoryAuth is remote.Auth for one client.
type MemoryAuth struct {
	accounts *Accounts
	mu       sync.Mutex
	current  *remote.Session
	watchers map[int]func(*remote.Session)
	next     int
}

func (m *MemoryAuth) SignUp(ctx context.Context, email, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.accounts.Register(email, password)
}

func (m *MemoryAuth) SignIn(ctx context.Context, email, password string) (remote.Session, error) {
	if err := ctx.Err(); err != nil {
		return remote.Session{}, err
	}
	sess, err := m.accounts.Verify(email, password)
	if err != nil {
		return remote.Session{}, err
	}
	m.set(&sess)
	return sess, nil
}

func (m *MemoryAuth) SignOut(context.Context) error {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur != nil {
		m.accounts.Revoke(cur.IDToken)
	}
	m.set(nil)
	return nil
}

func (m *MemoryAuth) OnSessionChange(fn func(*remote.Session)) func() {
	m.mu.Lock()
	m.next++
	id := m.next
	m.watchers[id] = fn
	cur := m.current
	m.mu.Unlock()
	fn(cur)
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

func (m *MemoryAuth) set(s *remote.Session) {
	m.mu.Lock()
	m.current = s
	fns := make([]func(*remote.Session), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
