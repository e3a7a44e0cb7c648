// Package memory implementa core.Store en memoria.
//
// Pensado para desarrollo y tests. Las transacciones toman el lock global del
// store y operan sobre un snapshot: Commit publica, Rollback descarta. Eso
// serializa requests concurrentes, que es exactamente el aislamiento que el
// modelo de redención única necesita (el segundo canje encuentra la fila ya
// borrada).
package memory

import (
	"context"
	"sync"

	"github.com/dropDatabas3/o2server/internal/store/core"
)

type state struct {
	apps       map[string]*core.Application
	clients    map[string]*core.Client
	users      map[string]*core.User
	identities map[string]*core.Identity
	identByKey map[string]string // app|type|remote → identity id
	tokens     map[string]*core.OAuthToken
	tokenByHsh map[string]string // hash → token id
	states     map[string]*core.AuthenticatorState
}

func newState() *state {
	return &state{
		apps:       map[string]*core.Application{},
		clients:    map[string]*core.Client{},
		users:      map[string]*core.User{},
		identities: map[string]*core.Identity{},
		identByKey: map[string]string{},
		tokens:     map[string]*core.OAuthToken{},
		tokenByHsh: map[string]string{},
		states:     map[string]*core.AuthenticatorState{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.apps {
		cp := *v
		c.apps[k] = &cp
	}
	for k, v := range s.clients {
		cp := *v
		c.clients[k] = &cp
	}
	for k, v := range s.users {
		cp := *v
		c.users[k] = &cp
	}
	for k, v := range s.identities {
		cp := *v
		c.identities[k] = &cp
	}
	for k, v := range s.identByKey {
		c.identByKey[k] = v
	}
	for k, v := range s.tokens {
		cp := *v
		c.tokens[k] = &cp
	}
	for k, v := range s.tokenByHsh {
		c.tokenByHsh[k] = v
	}
	for k, v := range s.states {
		cp := *v
		c.states[k] = &cp
	}
	return c
}

func identKey(appID, typ, remoteID string) string { return appID + "|" + typ + "|" + remoteID }

type Store struct {
	mu   sync.Mutex
	data *state
}

func New() *Store { return &Store{data: newState()} }

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close()                     {}

// Begin toma el lock hasta Commit/Rollback.
func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	s.mu.Lock()
	return &tx{store: s, staged: s.data.clone()}, nil
}

type tx struct {
	store  *Store
	staged *state
	done   bool
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return nil
	}
	t.store.data = t.staged
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

// Las operaciones no-transaccionales del Store toman el lock por llamada.

func (s *Store) withState(fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) CreateApplication(ctx context.Context, a *core.Application) error {
	return s.withState(func(st *state) error { return createApplication(st, a) })
}
func (s *Store) GetApplication(ctx context.Context, id string) (out *core.Application, err error) {
	err = s.withState(func(st *state) error { out, err = getApplication(st, id); return err })
	return
}
func (s *Store) CreateClient(ctx context.Context, c *core.Client) error {
	return s.withState(func(st *state) error { return createClient(st, c) })
}
func (s *Store) GetClient(ctx context.Context, id string) (out *core.Client, err error) {
	err = s.withState(func(st *state) error { out, err = getClient(st, id); return err })
	return
}
func (s *Store) CreateUser(ctx context.Context, u *core.User) error {
	return s.withState(func(st *state) error { return createUser(st, u) })
}
func (s *Store) GetUser(ctx context.Context, id string) (out *core.User, err error) {
	err = s.withState(func(st *state) error { out, err = getUser(st, id); return err })
	return
}
func (s *Store) CreateIdentity(ctx context.Context, i *core.Identity) error {
	return s.withState(func(st *state) error { return createIdentity(st, i) })
}
func (s *Store) GetIdentity(ctx context.Context, id string) (out *core.Identity, err error) {
	err = s.withState(func(st *state) error { out, err = getIdentity(st, id); return err })
	return
}
func (s *Store) FindIdentity(ctx context.Context, appID, typ, remoteID string) (out *core.Identity, err error) {
	err = s.withState(func(st *state) error { out, err = findIdentity(st, appID, typ, remoteID); return err })
	return
}
func (s *Store) UpdateIdentityClaims(ctx context.Context, id string, claims map[string]string) error {
	return s.withState(func(st *state) error { return updateIdentityClaims(st, id, claims) })
}
func (s *Store) CreateToken(ctx context.Context, t *core.OAuthToken) error {
	return s.withState(func(st *state) error { return createToken(st, t) })
}
func (s *Store) GetTokenByHash(ctx context.Context, typ core.TokenType, hash string) (out *core.OAuthToken, err error) {
	err = s.withState(func(st *state) error { out, err = getTokenByHash(st, typ, hash); return err })
	return
}
func (s *Store) GetToken(ctx context.Context, id string) (out *core.OAuthToken, err error) {
	err = s.withState(func(st *state) error { out, err = getToken(st, id); return err })
	return
}
func (s *Store) DeleteToken(ctx context.Context, id string) error {
	return s.withState(func(st *state) error { return deleteToken(st, id) })
}
func (s *Store) CreateAuthenticatorState(ctx context.Context, as *core.AuthenticatorState) error {
	return s.withState(func(st *state) error { return createAuthState(st, as) })
}
func (s *Store) GetAuthenticatorState(ctx context.Context, id string) (out *core.AuthenticatorState, err error) {
	err = s.withState(func(st *state) error { out, err = getAuthState(st, id); return err })
	return
}
func (s *Store) DeleteAuthenticatorState(ctx context.Context, id string) error {
	return s.withState(func(st *state) error { return deleteAuthState(st, id) })
}

// Operaciones del tx: mismas primitivas sobre el snapshot staged.

func (t *tx) CreateApplication(ctx context.Context, a *core.Application) error {
	return createApplication(t.staged, a)
}
func (t *tx) GetApplication(ctx context.Context, id string) (*core.Application, error) {
	return getApplication(t.staged, id)
}
func (t *tx) CreateClient(ctx context.Context, c *core.Client) error { return createClient(t.staged, c) }
func (t *tx) GetClient(ctx context.Context, id string) (*core.Client, error) {
	return getClient(t.staged, id)
}
func (t *tx) CreateUser(ctx context.Context, u *core.User) error { return createUser(t.staged, u) }
func (t *tx) GetUser(ctx context.Context, id string) (*core.User, error) {
	return getUser(t.staged, id)
}
func (t *tx) CreateIdentity(ctx context.Context, i *core.Identity) error {
	return createIdentity(t.staged, i)
}
func (t *tx) GetIdentity(ctx context.Context, id string) (*core.Identity, error) {
	return getIdentity(t.staged, id)
}
func (t *tx) FindIdentity(ctx context.Context, appID, typ, remoteID string) (*core.Identity, error) {
	return findIdentity(t.staged, appID, typ, remoteID)
}
func (t *tx) UpdateIdentityClaims(ctx context.Context, id string, claims map[string]string) error {
	return updateIdentityClaims(t.staged, id, claims)
}
func (t *tx) CreateToken(ctx context.Context, tok *core.OAuthToken) error {
	return createToken(t.staged, tok)
}
func (t *tx) GetTokenByHash(ctx context.Context, typ core.TokenType, hash string) (*core.OAuthToken, error) {
	return getTokenByHash(t.staged, typ, hash)
}
func (t *tx) GetToken(ctx context.Context, id string) (*core.OAuthToken, error) {
	return getToken(t.staged, id)
}
func (t *tx) DeleteToken(ctx context.Context, id string) error { return deleteToken(t.staged, id) }
func (t *tx) CreateAuthenticatorState(ctx context.Context, as *core.AuthenticatorState) error {
	return createAuthState(t.staged, as)
}
func (t *tx) GetAuthenticatorState(ctx context.Context, id string) (*core.AuthenticatorState, error) {
	return getAuthState(t.staged, id)
}
func (t *tx) DeleteAuthenticatorState(ctx context.Context, id string) error {
	return deleteAuthState(t.staged, id)
}

// Primitivas compartidas.

func createApplication(st *state, a *core.Application) error {
	if _, ok := st.apps[a.ID]; ok {
		return core.ErrConflict
	}
	cp := *a
	st.apps[a.ID] = &cp
	return nil
}

func getApplication(st *state, id string) (*core.Application, error) {
	a, ok := st.apps[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func createClient(st *state, c *core.Client) error {
	if _, ok := st.clients[c.ID]; ok {
		return core.ErrConflict
	}
	if _, ok := st.apps[c.ApplicationID]; !ok {
		return core.ErrInvalid
	}
	cp := *c
	st.clients[c.ID] = &cp
	return nil
}

func getClient(st *state, id string) (*core.Client, error) {
	c, ok := st.clients[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func createUser(st *state, u *core.User) error {
	if _, ok := st.users[u.ID]; ok {
		return core.ErrConflict
	}
	cp := *u
	st.users[u.ID] = &cp
	return nil
}

func getUser(st *state, id string) (*core.User, error) {
	u, ok := st.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func createIdentity(st *state, i *core.Identity) error {
	if _, ok := st.identities[i.ID]; ok {
		return core.ErrConflict
	}
	key := identKey(i.ApplicationID, i.Type, i.RemoteID)
	if _, ok := st.identByKey[key]; ok {
		return core.ErrConflict
	}
	cp := *i
	st.identities[i.ID] = &cp
	st.identByKey[key] = i.ID
	return nil
}

func getIdentity(st *state, id string) (*core.Identity, error) {
	i, ok := st.identities[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func findIdentity(st *state, appID, typ, remoteID string) (*core.Identity, error) {
	id, ok := st.identByKey[identKey(appID, typ, remoteID)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return getIdentity(st, id)
}

func updateIdentityClaims(st *state, id string, claims map[string]string) error {
	i, ok := st.identities[id]
	if !ok {
		return core.ErrNotFound
	}
	i.Claims = claims
	return nil
}

func createToken(st *state, t *core.OAuthToken) error {
	if _, ok := st.tokens[t.ID]; ok {
		return core.ErrConflict
	}
	if t.TokenHash != "" {
		if _, ok := st.tokenByHsh[t.TokenHash]; ok {
			return core.ErrConflict
		}
	}
	cp := *t
	st.tokens[t.ID] = &cp
	if t.TokenHash != "" {
		st.tokenByHsh[t.TokenHash] = t.ID
	}
	return nil
}

func getTokenByHash(st *state, typ core.TokenType, hash string) (*core.OAuthToken, error) {
	id, ok := st.tokenByHsh[hash]
	if !ok {
		return nil, core.ErrNotFound
	}
	t, err := getToken(st, id)
	if err != nil {
		return nil, err
	}
	if typ != "" && t.Type != typ {
		return nil, core.ErrNotFound
	}
	return t, nil
}

func getToken(st *state, id string) (*core.OAuthToken, error) {
	t, ok := st.tokens[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func deleteToken(st *state, id string) error {
	t, ok := st.tokens[id]
	if !ok {
		return core.ErrNotFound
	}
	delete(st.tokens, id)
	if t.TokenHash != "" {
		delete(st.tokenByHsh, t.TokenHash)
	}
	return nil
}

func createAuthState(st *state, as *core.AuthenticatorState) error {
	if _, ok := st.states[as.ID]; ok {
		return core.ErrConflict
	}
	cp := *as
	st.states[as.ID] = &cp
	return nil
}

func getAuthState(st *state, id string) (*core.AuthenticatorState, error) {
	as, ok := st.states[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *as
	return &cp, nil
}

func deleteAuthState(st *state, id string) error {
	if _, ok := st.states[id]; !ok {
		return core.ErrNotFound
	}
	delete(st.states, id)
	return nil
}
