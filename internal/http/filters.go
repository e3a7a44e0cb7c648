package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/security/credentials"
	"github.com/dropDatabas3/o2server/internal/security/password"
	"github.com/dropDatabas3/o2server/internal/security/principal"
	"github.com/dropDatabas3/o2server/internal/security/token"
	"github.com/dropDatabas3/o2server/internal/store/core"
)

// FilterConfig declara qué esquemas acepta un endpoint. La cadena corre igual
// para todos; el check final es el que rechaza.
type FilterConfig struct {
	AllowPublic  bool
	AllowPrivate bool
	AllowBearer  bool
	AllowQuery   bool // client_id por query string (solo /authorize)
}

// filterFunc es un paso puro de la cadena: recibe el principal acumulado y
// devuelve el nuevo. Un filtro que no encuentra su tipo de credencial es no-op.
type filterFunc func(ctx context.Context, r *http.Request, tx core.Tx, fc FilterConfig, acc principal.Principal) (principal.Principal, error)

// Orden fijo: bearer primero, client credentials después. El merge detecta
// requests que reclaman dos identidades.
var filterChain = []filterFunc{filterBearer, filterClient}

// authenticate corre la cadena completa y aplica el check final de esquema.
func authenticate(ctx context.Context, r *http.Request, tx core.Tx, fc FilterConfig) (principal.Principal, error) {
	acc := principal.Anonymous()
	for _, f := range filterChain {
		next, err := f(ctx, r, tx, fc, acc)
		if err != nil {
			return principal.Principal{}, err
		}
		acc = next
	}
	if err := checkScheme(acc, fc); err != nil {
		return principal.Principal{}, err
	}
	return acc, nil
}

func checkScheme(p principal.Principal, fc FilterConfig) error {
	switch p.Scheme() {
	case principal.SchemeNone:
		return oauth2.InvalidClient("client authentication required")
	case principal.SchemeClientPublic:
		if !fc.AllowPublic {
			return oauth2.AccessDenied("public clients cannot call this endpoint")
		}
	case principal.SchemeClientPrivate:
		if !fc.AllowPrivate {
			return oauth2.AccessDenied("client credentials are not accepted here")
		}
	case principal.SchemeBearerToken:
		if !fc.AllowBearer {
			return oauth2.AccessDenied("bearer tokens are not accepted here")
		}
	}
	return nil
}

// filterBearer resuelve Authorization: Bearer contra el store por hash.
// Token desconocido o vencido ⇒ denegado, no anónimo.
func filterBearer(ctx context.Context, r *http.Request, tx core.Tx, _ FilterConfig, acc principal.Principal) (principal.Principal, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") && !strings.HasPrefix(h, "bearer ") {
		return acc, nil
	}
	raw := strings.TrimSpace(h[len("Bearer "):])
	if raw == "" {
		return principal.Principal{}, oauth2.InvalidRequest("empty bearer token")
	}

	tok, err := tx.GetTokenByHash(ctx, core.TokenBearer, token.SHA256Base64URL(raw))
	if err == core.ErrNotFound {
		return principal.Principal{}, oauth2.AccessDenied("unknown bearer token")
	}
	if err != nil {
		return principal.Principal{}, oauth2.ServerError("token lookup")
	}
	if tok.Expired(core.SystemClock()) {
		return principal.Principal{}, oauth2.AccessDenied("bearer token expired")
	}
	client, err := tx.GetClient(ctx, tok.ClientID)
	if err != nil {
		return principal.Principal{}, oauth2.ServerError("client lookup")
	}
	return principal.Merge(acc, principal.ForToken(client, tok))
}

// filterClient cubre Basic, body y query en un solo paso: el extractor ya
// impone la regla de fuente única y el rechazo de secrets en la URL.
func filterClient(ctx context.Context, r *http.Request, tx core.Tx, fc FilterConfig, acc principal.Principal) (principal.Principal, error) {
	creds, err := credentials.FromRequest(r)
	if err != nil {
		return principal.Principal{}, err
	}
	if !creds.Present() {
		return acc, nil
	}
	if creds.Source == credentials.SourceQuery && !fc.AllowQuery {
		return principal.Principal{}, oauth2.InvalidRequest("client_id in the query string is not accepted here")
	}

	client, err := tx.GetClient(ctx, creds.ClientID)
	if err == core.ErrNotFound {
		return principal.Principal{}, oauth2.InvalidClient("unknown client")
	}
	if err != nil {
		return principal.Principal{}, oauth2.ServerError("client lookup")
	}

	if creds.Secret == "" {
		return principal.Merge(acc, principal.ForPublicClient(client))
	}
	if client.SecretHash == nil || !password.Verify(creds.Secret, *client.SecretHash) {
		return principal.Principal{}, oauth2.InvalidClient("invalid client secret")
	}
	return principal.Merge(acc, principal.ForPrivateClient(client))
}
