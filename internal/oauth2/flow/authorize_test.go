package flow

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/o2server/internal/authenticator"
	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/store/core"
)

// fakeIdP resuelve identidades pre-sembradas por remote id, sin red.
type fakeIdP struct{}

func (fakeIdP) Type() string                        { return "fake" }
func (fakeIdP) Validate(cfg map[string]string) error { return nil }

func (fakeIdP) Delegate(ctx context.Context, cfg map[string]string, callback *url.URL) (string, error) {
	return "https://idp.test/auth?state=" + callback.Query().Get("state"), nil
}

func (fakeIdP) Authenticate(ctx context.Context, tx core.Tx, app *core.Application, cfg map[string]string, params map[string]string, callback *url.URL) (*core.Identity, error) {
	if params["error"] != "" {
		return nil, oauth2.ThirdParty("upstream said %s", params["error"])
	}
	ident, err := tx.FindIdentity(ctx, app.ID, "fake", params["user"])
	if err != nil {
		return nil, oauth2.AccessDenied("unknown upstream user")
	}
	return ident, nil
}

func authorizeFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.d.Auth = authenticator.Registry{"fake": fakeIdP{}}
	return f
}

func (f *fixture) addFakeUser(t *testing.T, remoteID, role string) *core.Identity {
	t.Helper()
	ctx := context.Background()
	user := &core.User{ID: uuid.NewString(), ApplicationID: f.app.ID, Role: role}
	if err := f.st.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	ident := &core.Identity{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		ApplicationID: f.app.ID,
		Type:          "fake",
		RemoteID:      remoteID,
	}
	if err := f.st.CreateIdentity(ctx, ident); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	return ident
}

func fakeClient(f *fixture, t *testing.T, typ core.ClientType) *core.Client {
	return f.addClient(t, &core.Client{
		ID:           uuid.NewString(),
		Type:         typ,
		RedirectURIs: []string{"https://app.test/cb"},
		Authenticators: []core.Authenticator{
			{Type: "fake", Config: map[string]string{}},
		},
	})
}

// authorize corre Authorize en su propia tx y devuelve el state id que viajó
// al IdP.
func (f *fixture) authorize(t *testing.T, req AuthorizeRequest) (string, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := f.st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	target, err := f.d.Authorize(ctx, tx, req)
	if err != nil {
		tx.Rollback(ctx)
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	u, err := url.Parse(target)
	if err != nil {
		t.Fatalf("parse idp redirect %q: %v", target, err)
	}
	return u.Query().Get("state"), nil
}

func (f *fixture) callback(t *testing.T, stateID string, params map[string]string) (string, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := f.st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	redirect, err := f.d.Callback(ctx, tx, stateID, params)
	if err != nil {
		tx.Rollback(ctx)
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return redirect, nil
}

func authReq(c *core.Client, responseType string, scopes []string, state string) AuthorizeRequest {
	redirect, _ := url.Parse("https://app.test/cb")
	return AuthorizeRequest{
		Client:       c,
		ResponseType: responseType,
		RedirectURI:  redirect,
		Scopes:       scopes,
		State:        state,
	}
}

func TestAuthorizeCodeFlow(t *testing.T) {
	f := authorizeFixture(t)
	c := fakeClient(f, t, core.ClientAuthorizationGrant)
	ident := f.addFakeUser(t, "remote-1", "user")

	stateID, err := f.authorize(t, authReq(c, ResponseTypeCode, []string{"debug", "read"}, "xyz"))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if stateID == "" {
		t.Fatal("state id must travel to the IdP")
	}

	redirect, err := f.callback(t, stateID, map[string]string{"user": "remote-1"})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if u.Scheme != "https" || u.Host != "app.test" || u.Path != "/cb" {
		t.Errorf("redirect base = %s", redirect)
	}
	code := u.Query().Get("code")
	if code == "" {
		t.Fatal("code flow must put the code in the query")
	}
	if got := u.Query().Get("state"); got != "xyz" {
		t.Errorf("echoed state = %q", got)
	}

	stored, err := f.findByRaw(t, core.TokenAuthorization, code)
	if err != nil {
		t.Fatalf("stored code: %v", err)
	}
	if stored.IdentityID == nil || *stored.IdentityID != ident.ID {
		t.Error("code must carry the resolved identity")
	}
	if strings.Join(stored.Scopes, " ") != "debug read" {
		t.Errorf("code scopes = %v", stored.Scopes)
	}
	if stored.RedirectURI != "https://app.test/cb" {
		t.Errorf("code redirect = %q", stored.RedirectURI)
	}
}

func TestAuthorizeImplicitFlow(t *testing.T) {
	f := authorizeFixture(t)
	c := fakeClient(f, t, core.ClientImplicit)
	f.addFakeUser(t, "remote-1", "user")

	stateID, err := f.authorize(t, authReq(c, ResponseTypeToken, []string{"read"}, "s-9"))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	redirect, err := f.callback(t, stateID, map[string]string{"user": "remote-1"})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}

	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if u.RawQuery != "" {
		t.Errorf("implicit must not leak the token in the query: %q", u.RawQuery)
	}
	frag, err := url.ParseQuery(u.Fragment)
	if err != nil {
		t.Fatalf("parse fragment: %v", err)
	}
	if frag.Get("access_token") == "" || frag.Get("token_type") != "Bearer" {
		t.Errorf("fragment = %v", frag)
	}
	if frag.Get("expires_in") != "600" {
		t.Errorf("expires_in = %q", frag.Get("expires_in"))
	}
	if frag.Get("scope") != "read" {
		t.Errorf("scope = %q", frag.Get("scope"))
	}
	if frag.Get("state") != "s-9" {
		t.Errorf("state = %q", frag.Get("state"))
	}

	if _, err := f.findByRaw(t, core.TokenBearer, frag.Get("access_token")); err != nil {
		t.Errorf("implicit bearer not persisted: %v", err)
	}
}

func TestAuthorizeScopesIntersectRole(t *testing.T) {
	f := authorizeFixture(t)
	c := fakeClient(f, t, core.ClientAuthorizationGrant)
	f.addFakeUser(t, "remote-1", "user") // rol user: debug/read

	// "write" pasó la validación contra la app, pero el rol lo filtra.
	stateID, err := f.authorize(t, authReq(c, ResponseTypeCode, []string{"read", "write"}, ""))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	redirect, err := f.callback(t, stateID, map[string]string{"user": "remote-1"})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	u, _ := url.Parse(redirect)
	stored, err := f.findByRaw(t, core.TokenAuthorization, u.Query().Get("code"))
	if err != nil {
		t.Fatalf("stored code: %v", err)
	}
	if strings.Join(stored.Scopes, " ") != "read" {
		t.Errorf("granted scopes = %v, want [read]", stored.Scopes)
	}
}

func TestAuthorizeStateSingleUse(t *testing.T) {
	f := authorizeFixture(t)
	c := fakeClient(f, t, core.ClientAuthorizationGrant)
	f.addFakeUser(t, "remote-1", "user")

	stateID, err := f.authorize(t, authReq(c, ResponseTypeCode, nil, ""))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := f.callback(t, stateID, map[string]string{"user": "remote-1"}); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	_, err = f.callback(t, stateID, map[string]string{"user": "remote-1"})
	if !oauth2.IsKind(err, oauth2.KindInvalidRequest) {
		t.Errorf("reused state: got %v", err)
	}
}

func TestAuthorizeUpstreamDenied(t *testing.T) {
	f := authorizeFixture(t)
	c := fakeClient(f, t, core.ClientAuthorizationGrant)

	stateID, err := f.authorize(t, authReq(c, ResponseTypeCode, nil, ""))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	_, err = f.callback(t, stateID, map[string]string{"error": "access_denied"})
	if !oauth2.IsKind(err, oauth2.KindThirdParty) {
		t.Errorf("upstream error: got %v", err)
	}
}

func TestAuthorizeAuthenticatorSelection(t *testing.T) {
	f := authorizeFixture(t)

	t.Run("single delegating picked implicitly", func(t *testing.T) {
		c := f.addClient(t, &core.Client{
			ID:           uuid.NewString(),
			Type:         core.ClientAuthorizationGrant,
			RedirectURIs: []string{"https://app.test/cb"},
			Authenticators: []core.Authenticator{
				{Type: authenticator.TypePassword, Config: map[string]string{}},
				{Type: "fake", Config: map[string]string{}},
			},
		})
		if _, err := f.authorize(t, authReq(c, ResponseTypeCode, nil, "")); err != nil {
			t.Fatalf("authorize: %v", err)
		}
	})

	t.Run("ambiguous requires explicit type", func(t *testing.T) {
		c := f.addClient(t, &core.Client{
			ID:           uuid.NewString(),
			Type:         core.ClientAuthorizationGrant,
			RedirectURIs: []string{"https://app.test/cb"},
			Authenticators: []core.Authenticator{
				{Type: "fake", Config: map[string]string{}},
				{Type: authenticator.TypeFacebook, Config: map[string]string{}},
			},
		})
		_, err := f.authorize(t, authReq(c, ResponseTypeCode, nil, ""))
		if !oauth2.IsKind(err, oauth2.KindInvalidRequest) {
			t.Errorf("got %v", err)
		}

		req := authReq(c, ResponseTypeCode, nil, "")
		req.AuthenticatorType = "fake"
		if _, err := f.authorize(t, req); err != nil {
			t.Fatalf("explicit type: %v", err)
		}
	})

	t.Run("password cannot drive authorize", func(t *testing.T) {
		c := fakeClient(f, t, core.ClientAuthorizationGrant)
		req := authReq(c, ResponseTypeCode, nil, "")
		req.AuthenticatorType = authenticator.TypePassword
		_, err := f.authorize(t, req)
		if !oauth2.IsKind(err, oauth2.KindInvalidRequest) {
			t.Errorf("got %v", err)
		}
	})
}

func TestAuthorizeExpiredState(t *testing.T) {
	f := authorizeFixture(t)
	c := fakeClient(f, t, core.ClientAuthorizationGrant)
	f.addFakeUser(t, "remote-1", "user")

	stateID, err := f.authorize(t, authReq(c, ResponseTypeCode, nil, ""))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	// El reloj del flujo avanza más allá del TTL del state.
	f.d.Clock = func() time.Time { return core.SystemClock().Add(core.DefaultAuthCodeTTL + time.Minute) }

	_, err = f.callback(t, stateID, map[string]string{"user": "remote-1"})
	if !oauth2.IsKind(err, oauth2.KindInvalidRequest) {
		t.Errorf("expired state: got %v", err)
	}
}
