// Package flow implementa los grants del token endpoint y la máquina de
// estados de /authorize. Los handlers reciben la transacción del store como
// parámetro: la frontera transaccional es del handler HTTP, no de la lógica.
package flow

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/o2server/internal/authenticator"
	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/security/principal"
	"github.com/dropDatabas3/o2server/internal/security/token"
	"github.com/dropDatabas3/o2server/internal/store/core"
	"github.com/dropDatabas3/o2server/internal/validation"
)

// Nombres de grant del wire (RFC6749 §4).
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantRefreshToken      = "refresh_token"
)

// Deps son las dependencias compartidas de los flujos, armadas una vez en el
// arranque.
type Deps struct {
	Auth   authenticator.Registry
	Clock  core.Clock
	Issuer string // base URL pública del server, sin slash final
}

func (d *Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return core.SystemClock()
}

type grantFunc func(d *Deps, ctx context.Context, tx core.Tx, c *core.Client, form url.Values) (*oauth2.TokenResponse, error)

// Tabla estática grant_type → handler, resuelta en tiempo de compilación.
var grantTable = map[string]grantFunc{
	GrantAuthorizationCode: (*Deps).grantAuthorizationCode,
	GrantClientCredentials: (*Deps).grantClientCredentials,
	GrantPassword:          (*Deps).grantPassword,
	GrantRefreshToken:      (*Deps).grantRefreshToken,
}

// Token despacha un request del token endpoint al handler de su grant_type.
// El principal viene de la cadena de filtros; acá solo exigimos que haya un
// client autenticado de alguna forma.
func (d *Deps) Token(ctx context.Context, tx core.Tx, p principal.Principal, form url.Values) (*oauth2.TokenResponse, error) {
	gt := form.Get("grant_type")
	if gt == "" {
		return nil, oauth2.InvalidRequest("grant_type is required")
	}
	fn, ok := grantTable[gt]
	if !ok {
		return nil, oauth2.UnsupportedGrantType("unsupported grant_type %q", gt)
	}
	if p.Client == nil {
		return nil, oauth2.InvalidClient("client authentication required")
	}
	if gt == GrantClientCredentials && p.Scheme() != principal.SchemeClientPrivate {
		return nil, oauth2.InvalidClient("client secret required for client_credentials")
	}

	resp, err := fn(d, ctx, tx, p.Client, form)
	if err != nil {
		return nil, err
	}
	resp.State = form.Get("state")
	return resp, nil
}

func (d *Deps) grantAuthorizationCode(ctx context.Context, tx core.Tx, c *core.Client, form url.Values) (*oauth2.TokenResponse, error) {
	if c.Type != core.ClientAuthorizationGrant {
		return nil, oauth2.InvalidGrant("client is not allowed to redeem authorization codes")
	}
	code := form.Get("code")
	redirect := form.Get("redirect_uri")
	if code == "" || redirect == "" {
		return nil, oauth2.InvalidRequest("code and redirect_uri are required")
	}

	authCode, err := tx.GetTokenByHash(ctx, core.TokenAuthorization, token.SHA256Base64URL(code))
	if err == core.ErrNotFound {
		return nil, oauth2.InvalidGrant("unknown or already redeemed authorization code")
	}
	if err != nil {
		return nil, oauth2.ServerError("authorization code lookup")
	}
	if authCode.Expired(d.now()) {
		return nil, oauth2.InvalidGrant("authorization code expired")
	}
	if authCode.ClientID != c.ID {
		return nil, oauth2.InvalidGrant("authorization code was issued to another client")
	}
	if authCode.RedirectURI != redirect {
		return nil, oauth2.InvalidGrant("redirect_uri does not match the authorization request")
	}

	access, refresh, err := d.issuePair(ctx, tx, c, authCode.IdentityID, authCode.Scopes)
	if err != nil {
		return nil, err
	}
	// Consumo único: el code desaparece en la misma tx que emite su reemplazo.
	if err := tx.DeleteToken(ctx, authCode.ID); err != nil {
		return nil, oauth2.ServerError("consuming authorization code")
	}
	return d.pairResponse(c, access, refresh), nil
}

func (d *Deps) grantClientCredentials(ctx context.Context, tx core.Tx, c *core.Client, form url.Values) (*oauth2.TokenResponse, error) {
	if c.Type != core.ClientCredentials {
		return nil, oauth2.InvalidGrant("client is not allowed to use client_credentials")
	}
	if c.Public() {
		return nil, oauth2.UnauthorizedClient("client_credentials requires a confidential client")
	}
	app, err := tx.GetApplication(ctx, c.ApplicationID)
	if err != nil {
		return nil, oauth2.ServerError("application lookup")
	}

	// Único grant que valida contra el scope set completo de la aplicación:
	// no hay user, no hay rol que filtre.
	scopes, err := validation.ValidateScope(form.Get("scope"), app.Scopes)
	if err != nil {
		return nil, err
	}
	names := core.SortedScopeNames(scopes)

	access, err := d.issueBearer(ctx, tx, c, nil, names)
	if err != nil {
		return nil, err
	}
	return d.bearerResponse(c, access), nil
}

func (d *Deps) grantPassword(ctx context.Context, tx core.Tx, c *core.Client, form url.Values) (*oauth2.TokenResponse, error) {
	if c.Type != core.ClientOwnerCredentials {
		return nil, oauth2.InvalidGrant("client is not allowed to use the password grant")
	}
	cfg := c.Authenticator(authenticator.TypePassword)
	if cfg == nil {
		return nil, oauth2.Misconfigured("client has no password authenticator")
	}
	auth, err := d.Auth.Get(authenticator.TypePassword)
	if err != nil {
		return nil, err
	}
	app, err := tx.GetApplication(ctx, c.ApplicationID)
	if err != nil {
		return nil, oauth2.ServerError("application lookup")
	}

	ident, err := auth.Authenticate(ctx, tx, app, cfg.Config, map[string]string{
		"username": form.Get("username"),
		"password": form.Get("password"),
	}, nil)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, oauth2.InvalidGrant("invalid username or password")
	}

	user, err := tx.GetUser(ctx, ident.UserID)
	if err != nil {
		return nil, oauth2.ServerError("user lookup")
	}
	scopes, err := validation.ValidateScope(form.Get("scope"), app.RoleScopes(user.Role))
	if err != nil {
		return nil, err
	}
	names := core.SortedScopeNames(scopes)

	access, refresh, err := d.issuePair(ctx, tx, c, &ident.ID, names)
	if err != nil {
		return nil, err
	}
	return d.pairResponse(c, access, refresh), nil
}

func (d *Deps) grantRefreshToken(ctx context.Context, tx core.Tx, c *core.Client, form url.Values) (*oauth2.TokenResponse, error) {
	if c.Type != core.ClientOwnerCredentials && c.Type != core.ClientAuthorizationGrant {
		return nil, oauth2.InvalidGrant("client is not allowed to refresh tokens")
	}
	raw := form.Get("refresh_token")
	if raw == "" {
		return nil, oauth2.InvalidRequest("refresh_token is required")
	}

	refresh, err := tx.GetTokenByHash(ctx, core.TokenRefresh, token.SHA256Base64URL(raw))
	if err == core.ErrNotFound {
		return nil, oauth2.InvalidGrant("unknown or already rotated refresh token")
	}
	if err != nil {
		return nil, oauth2.ServerError("refresh token lookup")
	}
	if refresh.Expired(d.now()) {
		return nil, oauth2.InvalidGrant("refresh token expired")
	}
	if refresh.ClientID != c.ID {
		return nil, oauth2.AccessDenied("refresh token belongs to another client")
	}

	allowed, err := d.currentAllowedScopes(ctx, tx, c, refresh.IdentityID)
	if err != nil {
		return nil, err
	}
	// Regla de no-escalación: lo pedido debe estar en lo ya otorgado ∩ lo que
	// el rol actual del user todavía permite.
	scopes, err := validation.RevalidateScope(form.Get("scope"), refresh.Scopes, allowed)
	if err != nil {
		return nil, err
	}
	names := core.SortedScopeNames(scopes)

	newAccess, newRefresh, err := d.issuePair(ctx, tx, c, refresh.IdentityID, names)
	if err != nil {
		return nil, err
	}

	// Rotación atómica: el refresh viejo y su access asociado mueren en la
	// misma tx. Un refresh "zombie" (su par ya borrado) no tiene nada extra
	// que borrar.
	if refresh.PairedTokenID != nil {
		if err := tx.DeleteToken(ctx, *refresh.PairedTokenID); err != nil && err != core.ErrNotFound {
			return nil, oauth2.ServerError("revoking paired access token")
		}
	}
	if err := tx.DeleteToken(ctx, refresh.ID); err != nil {
		return nil, oauth2.ServerError("consuming refresh token")
	}
	return d.pairResponse(c, newAccess, newRefresh), nil
}

// currentAllowedScopes resuelve qué scopes permite hoy el rol del user dueño
// del refresh token (o el scope set de la app si el token no tiene identity).
func (d *Deps) currentAllowedScopes(ctx context.Context, tx core.Tx, c *core.Client, identityID *string) (map[string]core.Scope, error) {
	app, err := tx.GetApplication(ctx, c.ApplicationID)
	if err != nil {
		return nil, oauth2.ServerError("application lookup")
	}
	if identityID == nil {
		return app.Scopes, nil
	}
	ident, err := tx.GetIdentity(ctx, *identityID)
	if err != nil {
		return nil, oauth2.ServerError("identity lookup")
	}
	user, err := tx.GetUser(ctx, ident.UserID)
	if err != nil {
		return nil, oauth2.ServerError("user lookup")
	}
	return app.RoleScopes(user.Role), nil
}

func (d *Deps) pairResponse(c *core.Client, access, refresh issued) *oauth2.TokenResponse {
	resp := d.bearerResponse(c, access)
	resp.RefreshToken = refresh.raw
	return resp
}

func (d *Deps) bearerResponse(c *core.Client, access issued) *oauth2.TokenResponse {
	return &oauth2.TokenResponse{
		AccessToken: access.raw,
		TokenType:   "Bearer",
		ExpiresIn:   int64(c.AccessLifetime() / time.Second),
		Scope:       strings.Join(access.tok.Scopes, " "),
	}
}
