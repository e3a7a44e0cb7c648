package authenticator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/store/core"
)

// Endpoints parametriza el flujo authorization-code compartido. Las
// implementaciones por-IdP solo aportan URLs, scope y parseo del perfil.
type Endpoints struct {
	AuthURL    string
	TokenURL   string
	ProfileURL string
	Scope      string
}

// OAuth2 es el authenticator genérico: el IdP se describe por completo en la
// config del client (auth_url/token_url/profile_url/client_id/client_secret).
type OAuth2 struct {
	http *http.Client
}

func (o *OAuth2) Type() string { return TypeOAuth2 }

func (o *OAuth2) Validate(cfg map[string]string) error {
	return requireKeys(cfg, "client_id", "client_secret", "auth_url", "token_url")
}

func (o *OAuth2) endpoints(cfg map[string]string) Endpoints {
	return Endpoints{
		AuthURL:    cfg["auth_url"],
		TokenURL:   cfg["token_url"],
		ProfileURL: cfg["profile_url"],
		Scope:      cfg["scope"],
	}
}

func (o *OAuth2) Delegate(ctx context.Context, cfg map[string]string, callback *url.URL) (string, error) {
	if err := o.Validate(cfg); err != nil {
		return "", err
	}
	return delegateURL(o.endpoints(cfg), cfg["client_id"], callback)
}

func (o *OAuth2) Authenticate(ctx context.Context, tx core.Tx, app *core.Application, cfg map[string]string, params map[string]string, callback *url.URL) (*core.Identity, error) {
	if err := o.Validate(cfg); err != nil {
		return nil, err
	}
	tr, err := resolveCallback(ctx, o.http, o.endpoints(cfg), cfg, params, callback)
	if err != nil {
		return nil, err
	}

	claims := map[string]string{}
	// Algunos IdPs OIDC-flavored mandan id_token junto al access token; sus
	// claims enriquecen la identidad. El canje del code sobre TLS es el ancla
	// de confianza, igual que en el social login clásico.
	if tr.IDToken != "" {
		mergeIDTokenClaims(claims, tr.IDToken)
	}
	if ep := o.endpoints(cfg); ep.ProfileURL != "" {
		profile, err := fetchProfile(ctx, o.http, ep.ProfileURL, tr.AccessToken)
		if err != nil {
			return nil, err
		}
		for k, v := range flattenProfile(profile) {
			claims[k] = v
		}
	}

	remoteID := claims["id"]
	if remoteID == "" {
		remoteID = claims["sub"]
	}
	if remoteID == "" {
		return nil, oauth2.ThirdParty("upstream profile has no usable id")
	}
	return upsertIdentity(ctx, tx, app, o.Type(), remoteID, claims)
}

// ───────────────── flujo compartido ─────────────────

// stripped devuelve el callback sin query ni fragment: el redirect_uri estable
// que ve el IdP (el mismo en delegate y en el canje del code).
func stripped(callback *url.URL) string {
	c := *callback
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}

// delegateURL arma la URL de autorización upstream. El state que viaja al IdP
// es el id del AuthenticatorState, tomado de la query del callback.
func delegateURL(ep Endpoints, clientID string, callback *url.URL) (string, error) {
	if callback == nil {
		return "", oauth2.ServerError("delegate requires a callback URI")
	}
	u, err := url.Parse(ep.AuthURL)
	if err != nil {
		return "", oauth2.Misconfigured("auth_url is not a valid URI")
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", stripped(callback))
	if ep.Scope != "" {
		q.Set("scope", ep.Scope)
	}
	if state := callback.Query().Get("state"); state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type upstreamToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	IDToken     string `json:"id_token,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// resolveCallback aplica las reglas comunes del callback: error del IdP,
// code faltante, y el canje code→token.
func resolveCallback(ctx context.Context, httpc *http.Client, ep Endpoints, cfg map[string]string, params map[string]string, callback *url.URL) (*upstreamToken, error) {
	if e := params["error"]; e != "" {
		desc := params["error_description"]
		return nil, oauth2.ThirdParty("identity provider returned %s: %s", e, desc)
	}
	code := params["code"]
	if code == "" {
		return nil, oauth2.InvalidRequest("callback is missing the authorization code")
	}
	return exchangeCode(ctx, httpc, ep.TokenURL, cfg["client_id"], cfg["client_secret"], code, stripped(callback))
}

// exchangeCode canjea el code por un access token upstream: POST form con
// Basic auth, timeout acotado por el http.Client inyectado.
func exchangeCode(ctx context.Context, httpc *http.Client, tokenURL, clientID, clientSecret, code, redirectURI string) (*upstreamToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, oauth2.Misconfigured("token_url is not a valid URI")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(clientID, clientSecret)

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, oauth2.ThirdParty("token exchange failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, oauth2.ThirdParty("token exchange http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var tr upstreamToken
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, oauth2.ThirdParty("malformed token exchange response")
	}
	if tr.AccessToken == "" {
		return nil, oauth2.ThirdParty("token exchange response has no access_token")
	}
	return &tr, nil
}

// fetchProfile trae el perfil upstream con el access token recién canjeado.
func fetchProfile(ctx context.Context, httpc *http.Client, profileURL, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return nil, oauth2.Misconfigured("profile_url is not a valid URI")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, oauth2.ThirdParty("profile fetch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, oauth2.ThirdParty("profile fetch http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var profile map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, oauth2.ThirdParty("malformed profile response")
	}
	return profile, nil
}

// flattenProfile se queda con los campos escalares del perfil como strings.
func flattenProfile(profile map[string]any) map[string]string {
	out := make(map[string]string, len(profile))
	for k, v := range profile {
		switch t := v.(type) {
		case string:
			out[k] = t
		case bool:
			out[k] = fmt.Sprintf("%t", t)
		case float64:
			// JSON numbers: ids enteros sin notación científica
			if t == float64(int64(t)) {
				out[k] = fmt.Sprintf("%d", int64(t))
			} else {
				out[k] = fmt.Sprintf("%g", t)
			}
		}
	}
	return out
}

// mergeIDTokenClaims parsea el id_token sin verificar firma y vuelca sus
// claims escalares.
func mergeIDTokenClaims(dst map[string]string, idToken string) {
	claims := jwtv5.MapClaims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(idToken, claims); err != nil {
		return
	}
	for k, v := range flattenProfile(claims) {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}
