// Package authenticator define la interfaz de delegación a IdPs y sus
// implementaciones (password, oauth2 genérico, facebook).
//
// La resolución por tipo es una tabla estática armada al arranque: nada de
// lookup dinámico por nombre en runtime.
package authenticator

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/store/core"
)

func newID() string { return uuid.NewString() }

// Tipos conocidos (coinciden con Authenticator.Type en el store).
const (
	TypePassword = "password"
	TypeOAuth2   = "oauth2"
	TypeFacebook = "facebook"
)

// Authenticator es la capability compartida de todos los IdPs.
//
// Delegate arma la respuesta redirect hacia el IdP (flows redirect-based).
// Validate chequea que la config por-client tenga lo necesario.
// Authenticate resuelve los parámetros del callback (o las credenciales
// directas, en el caso password) a una Identity persistida.
type Authenticator interface {
	Type() string
	Validate(cfg map[string]string) error
	Delegate(ctx context.Context, cfg map[string]string, callback *url.URL) (string, error)
	Authenticate(ctx context.Context, tx core.Tx, app *core.Application, cfg map[string]string, params map[string]string, callback *url.URL) (*core.Identity, error)
}

// Registry mapea tipo → implementación. Se construye una vez en el arranque.
type Registry map[string]Authenticator

// NewRegistry arma la tabla por defecto. httpClient acota los calls upstream
// (nil ⇒ timeout de 10s); los tests inyectan el suyo.
func NewRegistry(httpClient *http.Client) Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return Registry{
		TypePassword: &Password{},
		TypeOAuth2:   &OAuth2{http: httpClient},
		TypeFacebook: &Facebook{OAuth2: OAuth2{http: httpClient}},
	}
}

// Get resuelve un tipo; tipo desconocido es una config de client rota.
func (r Registry) Get(typ string) (Authenticator, error) {
	a, ok := r[typ]
	if !ok {
		return nil, oauth2.Misconfigured("unknown authenticator type %q", typ)
	}
	return a, nil
}

// Delegating informa si el tipo participa de flows redirect-based.
func Delegating(typ string) bool { return typ != TypePassword }

// requireKeys valida presencia de keys obligatorias en la config del client.
func requireKeys(cfg map[string]string, keys ...string) error {
	for _, k := range keys {
		if cfg[k] == "" {
			return oauth2.Misconfigured("authenticator config is missing %q", k)
		}
	}
	return nil
}

// upsertIdentity materializa la identidad remota: si no existe, crea el User
// (rol default de la aplicación) y la Identity; si existe, pisa los claims con
// los recién resueltos.
func upsertIdentity(ctx context.Context, tx core.Tx, app *core.Application, typ, remoteID string, claims map[string]string) (*core.Identity, error) {
	existing, err := tx.FindIdentity(ctx, app.ID, typ, remoteID)
	switch err {
	case nil:
		merged := make(map[string]string, len(existing.Claims)+len(claims))
		for k, v := range existing.Claims {
			merged[k] = v
		}
		for k, v := range claims {
			merged[k] = v
		}
		if err := tx.UpdateIdentityClaims(ctx, existing.ID, merged); err != nil {
			return nil, oauth2.ServerError("updating identity claims")
		}
		existing.Claims = merged
		return existing, nil
	case core.ErrNotFound:
		user := &core.User{
			ID:            newID(),
			ApplicationID: app.ID,
			Role:          app.DefaultRole,
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return nil, oauth2.ServerError("creating user")
		}
		ident := &core.Identity{
			ID:            newID(),
			UserID:        user.ID,
			ApplicationID: app.ID,
			Type:          typ,
			RemoteID:      remoteID,
			Claims:        claims,
		}
		if err := tx.CreateIdentity(ctx, ident); err != nil {
			return nil, oauth2.ServerError("creating identity")
		}
		return ident, nil
	default:
		return nil, oauth2.ServerError("identity lookup")
	}
}
