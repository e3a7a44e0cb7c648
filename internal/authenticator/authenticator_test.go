package authenticator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/security/password"
	"github.com/dropDatabas3/o2server/internal/store/core"
	"github.com/dropDatabas3/o2server/internal/store/memory"
)

func testApp() *core.Application {
	return &core.Application{
		ID:          "app-1",
		Name:        "demo",
		DefaultRole: "user",
	}
}

func beginTx(t *testing.T, st *memory.Store) core.Tx {
	t.Helper()
	tx, err := st.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tx
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

// ───────────────── password ─────────────────

func seedPasswordIdentity(t *testing.T, st *memory.Store, app *core.Application, username, plain string) {
	t.Helper()
	hash, err := password.Hash(password.Default, plain)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	ctx := context.Background()
	if err := st.CreateApplication(ctx, app); err != nil {
		t.Fatalf("create app: %v", err)
	}
	user := &core.User{ID: "user-1", ApplicationID: app.ID, Role: app.DefaultRole}
	if err := st.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	ident := &core.Identity{
		ID:            "ident-1",
		UserID:        user.ID,
		ApplicationID: app.ID,
		Type:          TypePassword,
		RemoteID:      username,
		PasswordHash:  &hash,
	}
	if err := st.CreateIdentity(ctx, ident); err != nil {
		t.Fatalf("create identity: %v", err)
	}
}

func TestPasswordAuthenticate(t *testing.T) {
	st := memory.New()
	app := testApp()
	seedPasswordIdentity(t, st, app, "ana", "s3cret")
	p := &Password{}

	tx := beginTx(t, st)
	defer tx.Rollback(context.Background())

	ident, err := p.Authenticate(context.Background(), tx, app, nil, map[string]string{
		"username": "ana", "password": "s3cret",
	}, nil)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ident == nil || ident.RemoteID != "ana" {
		t.Fatalf("expected identity for ana, got %+v", ident)
	}
}

func TestPasswordWrongCredentials(t *testing.T) {
	st := memory.New()
	app := testApp()
	seedPasswordIdentity(t, st, app, "ana", "s3cret")
	p := &Password{}

	tx := beginTx(t, st)
	defer tx.Rollback(context.Background())

	for name, params := range map[string]map[string]string{
		"wrong password": {"username": "ana", "password": "nope"},
		"unknown user":   {"username": "bob", "password": "s3cret"},
	} {
		ident, err := p.Authenticate(context.Background(), tx, app, nil, params, nil)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if ident != nil {
			t.Fatalf("%s: expected nil identity", name)
		}
	}
}

func TestPasswordMissingParams(t *testing.T) {
	p := &Password{}
	st := memory.New()
	tx := beginTx(t, st)
	defer tx.Rollback(context.Background())

	_, err := p.Authenticate(context.Background(), tx, testApp(), nil, map[string]string{"username": "ana"}, nil)
	if !oauth2.IsKind(err, oauth2.KindInvalidRequest) {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestPasswordCannotDelegate(t *testing.T) {
	p := &Password{}
	if _, err := p.Delegate(context.Background(), nil, nil); !oauth2.IsKind(err, oauth2.KindMisconfigured) {
		t.Fatalf("expected misconfigured, got %v", err)
	}
}

// ───────────────── oauth2 genérico ─────────────────

// fakeIdP levanta token + profile endpoints y registra lo que recibió.
type fakeIdP struct {
	srv         *httptest.Server
	tokenStatus int
	profile     map[string]any
	idToken     string

	gotCode        string
	gotRedirectURI string
	gotBasicUser   string
	gotBearer      string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	f := &fakeIdP{
		tokenStatus: http.StatusOK,
		profile:     map[string]any{"id": "remote-9", "name": "Ana", "email": "ana@example.com"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f.gotCode = r.PostFormValue("code")
		f.gotRedirectURI = r.PostFormValue("redirect_uri")
		f.gotBasicUser, _, _ = r.BasicAuth()
		if f.tokenStatus != http.StatusOK {
			http.Error(w, `{"error":"invalid_grant"}`, f.tokenStatus)
			return
		}
		resp := map[string]any{"access_token": "upstream-at", "token_type": "Bearer", "expires_in": 3600}
		if f.idToken != "" {
			resp["id_token"] = f.idToken
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		f.gotBearer = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		json.NewEncoder(w).Encode(f.profile)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdP) config() map[string]string {
	return map[string]string{
		"client_id":     "upstream-client",
		"client_secret": "upstream-secret",
		"auth_url":      f.srv.URL + "/auth",
		"token_url":     f.srv.URL + "/token",
		"profile_url":   f.srv.URL + "/me",
	}
}

func TestOAuth2Delegate(t *testing.T) {
	f := newFakeIdP(t)
	o := &OAuth2{http: f.srv.Client()}
	cfg := f.config()
	cfg["scope"] = "openid email"

	callback := mustURL(t, "https://o2.example.com/oauth2/authorize/callback?state=st-42")
	target, err := o.Delegate(context.Background(), cfg, callback)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	u := mustURL(t, target)
	q := u.Query()
	if got := q.Get("response_type"); got != "code" {
		t.Errorf("response_type = %q", got)
	}
	if got := q.Get("client_id"); got != "upstream-client" {
		t.Errorf("client_id = %q", got)
	}
	if got := q.Get("redirect_uri"); got != "https://o2.example.com/oauth2/authorize/callback" {
		t.Errorf("redirect_uri = %q, want callback without query", got)
	}
	if got := q.Get("state"); got != "st-42" {
		t.Errorf("state = %q", got)
	}
	if got := q.Get("scope"); got != "openid email" {
		t.Errorf("scope = %q", got)
	}
}

func TestOAuth2AuthenticateCreatesIdentity(t *testing.T) {
	f := newFakeIdP(t)
	o := &OAuth2{http: f.srv.Client()}
	st := memory.New()
	app := testApp()
	if err := st.CreateApplication(context.Background(), app); err != nil {
		t.Fatalf("create app: %v", err)
	}

	tx := beginTx(t, st)
	callback := mustURL(t, "https://o2.example.com/oauth2/authorize/callback?state=st-42")
	ident, err := o.Authenticate(context.Background(), tx, app, f.config(), map[string]string{"code": "abc"}, callback)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if f.gotCode != "abc" {
		t.Errorf("exchanged code = %q", f.gotCode)
	}
	if f.gotRedirectURI != "https://o2.example.com/oauth2/authorize/callback" {
		t.Errorf("redirect_uri = %q", f.gotRedirectURI)
	}
	if f.gotBasicUser != "upstream-client" {
		t.Errorf("basic user = %q", f.gotBasicUser)
	}
	if f.gotBearer != "upstream-at" {
		t.Errorf("profile bearer = %q", f.gotBearer)
	}
	if ident.RemoteID != "remote-9" || ident.Type != TypeOAuth2 {
		t.Fatalf("identity = %+v", ident)
	}
	if ident.Claims["email"] != "ana@example.com" {
		t.Errorf("claims = %+v", ident.Claims)
	}

	// El user materializado hereda el rol default de la aplicación.
	user, err := st.GetUser(context.Background(), ident.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Role != "user" {
		t.Errorf("user role = %q", user.Role)
	}
}

func TestOAuth2AuthenticateMergesClaims(t *testing.T) {
	f := newFakeIdP(t)
	o := &OAuth2{http: f.srv.Client()}
	st := memory.New()
	app := testApp()
	if err := st.CreateApplication(context.Background(), app); err != nil {
		t.Fatalf("create app: %v", err)
	}
	callback := mustURL(t, "https://o2.example.com/cb?state=s1")

	tx := beginTx(t, st)
	first, err := o.Authenticate(context.Background(), tx, app, f.config(), map[string]string{"code": "c1"}, callback)
	if err != nil {
		t.Fatalf("first authenticate: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}

	f.profile = map[string]any{"id": "remote-9", "name": "Ana García"}
	tx = beginTx(t, st)
	second, err := o.Authenticate(context.Background(), tx, app, f.config(), map[string]string{"code": "c2"}, callback)
	if err != nil {
		t.Fatalf("second authenticate: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if second.ID != first.ID || second.UserID != first.UserID {
		t.Fatalf("expected the same identity, got %q vs %q", second.ID, first.ID)
	}
	if second.Claims["name"] != "Ana García" {
		t.Errorf("updated claim not applied: %+v", second.Claims)
	}
	if second.Claims["email"] != "ana@example.com" {
		t.Errorf("previous claim lost: %+v", second.Claims)
	}
}

func TestOAuth2UpstreamError(t *testing.T) {
	f := newFakeIdP(t)
	o := &OAuth2{http: f.srv.Client()}
	st := memory.New()
	tx := beginTx(t, st)
	defer tx.Rollback(context.Background())
	callback := mustURL(t, "https://o2.example.com/cb?state=s1")

	_, err := o.Authenticate(context.Background(), tx, testApp(), f.config(), map[string]string{
		"error": "access_denied", "error_description": "user said no",
	}, callback)
	if !oauth2.IsKind(err, oauth2.KindThirdParty) {
		t.Fatalf("expected third_party_error, got %v", err)
	}
}

func TestOAuth2MissingCode(t *testing.T) {
	f := newFakeIdP(t)
	o := &OAuth2{http: f.srv.Client()}
	st := memory.New()
	tx := beginTx(t, st)
	defer tx.Rollback(context.Background())

	_, err := o.Authenticate(context.Background(), tx, testApp(), f.config(), map[string]string{}, mustURL(t, "https://o2.example.com/cb"))
	if !oauth2.IsKind(err, oauth2.KindInvalidRequest) {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestOAuth2ExchangeFailure(t *testing.T) {
	f := newFakeIdP(t)
	f.tokenStatus = http.StatusBadRequest
	o := &OAuth2{http: f.srv.Client()}
	st := memory.New()
	tx := beginTx(t, st)
	defer tx.Rollback(context.Background())

	_, err := o.Authenticate(context.Background(), tx, testApp(), f.config(), map[string]string{"code": "bad"}, mustURL(t, "https://o2.example.com/cb"))
	if !oauth2.IsKind(err, oauth2.KindThirdParty) {
		t.Fatalf("expected third_party_error, got %v", err)
	}
}

func TestOAuth2ValidateMissingConfig(t *testing.T) {
	o := &OAuth2{}
	err := o.Validate(map[string]string{"client_id": "x", "client_secret": "y"})
	if !oauth2.IsKind(err, oauth2.KindMisconfigured) {
		t.Fatalf("expected misconfigured, got %v", err)
	}
}

// ───────────────── registry ─────────────────

func TestRegistryGet(t *testing.T) {
	r := NewRegistry(nil)
	for _, typ := range []string{TypePassword, TypeOAuth2, TypeFacebook} {
		a, err := r.Get(typ)
		if err != nil {
			t.Fatalf("get %s: %v", typ, err)
		}
		if a.Type() != typ {
			t.Errorf("type mismatch: %s vs %s", a.Type(), typ)
		}
	}
	if _, err := r.Get("saml"); !oauth2.IsKind(err, oauth2.KindMisconfigured) {
		t.Fatalf("expected misconfigured for unknown type, got %v", err)
	}
}

func TestDelegating(t *testing.T) {
	if Delegating(TypePassword) {
		t.Error("password must not delegate")
	}
	if !Delegating(TypeOAuth2) || !Delegating(TypeFacebook) {
		t.Error("redirect-based types must delegate")
	}
}
