package flow

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dropDatabas3/o2server/internal/authenticator"
	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/observability/logger"
	"github.com/dropDatabas3/o2server/internal/store/core"
	"github.com/dropDatabas3/o2server/internal/validation"
)

// Response types del wire (RFC6749 §3.1.1).
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// AuthorizeRequest es el input ya validado de /authorize: el handler HTTP
// resolvió redirect, scope y response_type-vs-client-type antes de llamar acá.
type AuthorizeRequest struct {
	Client            *core.Client
	ResponseType      string
	RedirectURI       *url.URL
	Scopes            []string // nombres validados, orden estable
	State             string   // state del client, opaco para nosotros
	AuthenticatorType string   // vacío ⇒ el único delegable del client
}

// Authorize arranca un flujo redirect-based: persiste el AuthenticatorState y
// devuelve la URL del IdP a la que 302-ear al user agent.
//
// Estados: Initial → PendingCallback (acá) → Resolved (en Callback).
func (d *Deps) Authorize(ctx context.Context, tx core.Tx, req AuthorizeRequest) (string, error) {
	c := req.Client
	typ, err := d.pickAuthenticator(c, req.AuthenticatorType)
	if err != nil {
		return "", err
	}
	cfg := c.Authenticator(typ)
	if cfg == nil {
		return "", oauth2.InvalidRequest("client has no %q authenticator", typ)
	}
	auth, err := d.Auth.Get(typ)
	if err != nil {
		return "", err
	}
	if err := auth.Validate(cfg.Config); err != nil {
		return "", err
	}

	now := d.now()
	st := &core.AuthenticatorState{
		ID:                uuid.NewString(),
		ClientID:          c.ID,
		AuthenticatorType: typ,
		ResponseType:      req.ResponseType,
		ClientState:       req.State,
		Scopes:            req.Scopes,
		RedirectURI:       req.RedirectURI.String(),
		CreatedAt:         now,
		ExpiresAt:         now.Add(c.AuthCodeLifetime()),
	}
	if err := tx.CreateAuthenticatorState(ctx, st); err != nil {
		return "", oauth2.ServerError("persisting authenticator state")
	}
	logger.From(ctx).Info("delegating", logger.AuthenticatorType(typ), logger.ClientID(c.ID))
	return auth.Delegate(ctx, cfg.Config, d.callbackURL(st.ID))
}

// Callback cierra el flujo: autentica contra el IdP, emite el token según el
// response_type original, borra el estado y devuelve la redirección final al
// client.
func (d *Deps) Callback(ctx context.Context, tx core.Tx, stateID string, params map[string]string) (string, error) {
	if stateID == "" {
		return "", oauth2.InvalidRequest("state is required")
	}
	st, err := tx.GetAuthenticatorState(ctx, stateID)
	if err == core.ErrNotFound {
		return "", oauth2.InvalidRequest("unknown or already used state")
	}
	if err != nil {
		return "", oauth2.ServerError("state lookup")
	}
	now := d.now()
	if st.Expired(now) {
		_ = tx.DeleteAuthenticatorState(ctx, st.ID)
		return "", oauth2.InvalidRequest("authorization request expired")
	}

	c, err := tx.GetClient(ctx, st.ClientID)
	if err != nil {
		return "", oauth2.ServerError("client lookup")
	}
	app, err := tx.GetApplication(ctx, c.ApplicationID)
	if err != nil {
		return "", oauth2.ServerError("application lookup")
	}
	cfg := c.Authenticator(st.AuthenticatorType)
	if cfg == nil {
		return "", oauth2.Misconfigured("client lost its %q authenticator", st.AuthenticatorType)
	}
	auth, err := d.Auth.Get(st.AuthenticatorType)
	if err != nil {
		return "", err
	}

	ident, err := auth.Authenticate(ctx, tx, app, cfg.Config, params, d.callbackURL(st.ID))
	if err != nil {
		return "", err
	}
	if ident == nil {
		return "", oauth2.AccessDenied("authentication failed")
	}

	user, err := tx.GetUser(ctx, ident.UserID)
	if err != nil {
		return "", oauth2.ServerError("user lookup")
	}
	// Scopes finales: lo pedido ∩ lo que permite el rol del user resuelto.
	granted := validation.IntersectScopes(st.Scopes, app.RoleScopes(user.Role))
	names := core.SortedScopeNames(granted)

	var redirect string
	switch st.ResponseType {
	case ResponseTypeToken:
		access, err := d.issueBearer(ctx, tx, c, &ident.ID, names)
		if err != nil {
			return "", err
		}
		redirect, err = implicitRedirect(st, c, access, names)
		if err != nil {
			return "", err
		}
	default:
		code, err := mint(core.TokenAuthorization, c.ID, &ident.ID, names, st.RedirectURI, d.Issuer, now, c.AuthCodeLifetime())
		if err != nil {
			return "", err
		}
		if err := tx.CreateToken(ctx, code.tok); err != nil {
			return "", oauth2.ServerError("persisting authorization code")
		}
		redirect, err = codeRedirect(st, code)
		if err != nil {
			return "", err
		}
	}

	if err := tx.DeleteAuthenticatorState(ctx, st.ID); err != nil {
		return "", oauth2.ServerError("consuming authenticator state")
	}
	return redirect, nil
}

// pickAuthenticator aplica la regla de selección: tipo explícito del request,
// o el único delegable configurado en el client.
func (d *Deps) pickAuthenticator(c *core.Client, explicit string) (string, error) {
	if explicit != "" {
		if !authenticator.Delegating(explicit) {
			return "", oauth2.InvalidRequest("authenticator %q cannot handle redirect flows", explicit)
		}
		return explicit, nil
	}
	var candidates []string
	for _, a := range c.Authenticators {
		if authenticator.Delegating(a.Type) {
			candidates = append(candidates, a.Type)
		}
	}
	if len(candidates) != 1 {
		return "", oauth2.InvalidRequest("authenticator must be specified")
	}
	return candidates[0], nil
}

func (d *Deps) callbackURL(stateID string) *url.URL {
	u, _ := url.Parse(strings.TrimRight(d.Issuer, "/") + "/oauth2/authorize/callback")
	q := u.Query()
	q.Set("state", stateID)
	u.RawQuery = q.Encode()
	return u
}

// codeRedirect agrega code (+state) a la query del redirect registrado,
// preservando los parámetros que el redirect ya traía.
func codeRedirect(st *core.AuthenticatorState, code issued) (string, error) {
	u, err := url.Parse(st.RedirectURI)
	if err != nil {
		return "", oauth2.ServerError("stored redirect is not a valid URI")
	}
	q := u.Query()
	q.Set("code", code.raw)
	if st.ClientState != "" {
		q.Set("state", st.ClientState)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// implicitRedirect encodea el token en el fragment, nunca en la query: el
// fragment no viaja al server del client ni queda en logs intermedios.
func implicitRedirect(st *core.AuthenticatorState, c *core.Client, access issued, scopes []string) (string, error) {
	u, err := url.Parse(st.RedirectURI)
	if err != nil {
		return "", oauth2.ServerError("stored redirect is not a valid URI")
	}
	frag := url.Values{}
	frag.Set("access_token", access.raw)
	frag.Set("token_type", "Bearer")
	frag.Set("expires_in", strconv.FormatInt(int64(c.AccessLifetime().Seconds()), 10))
	if len(scopes) > 0 {
		frag.Set("scope", strings.Join(scopes, " "))
	}
	if st.ClientState != "" {
		frag.Set("state", st.ClientState)
	}
	u.Fragment = frag.Encode()
	u.RawFragment = frag.Encode()
	return u.String(), nil
}
