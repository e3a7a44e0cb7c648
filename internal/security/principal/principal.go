// Package principal modela "quién llama" en un request.
//
// Un Principal se construye incrementalmente: cada filtro de autenticación que
// reconoce su tipo de credencial produce un candidato y lo mergea con el
// acumulado del request. El merge detecta identidades en conflicto.
package principal

import (
	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/store/core"
)

// Scheme es el esquema de autenticación efectivo de un Principal.
type Scheme string

const (
	SchemeNone          Scheme = "none"
	SchemeClientPublic  Scheme = "client_public"
	SchemeClientPrivate Scheme = "client_private"
	SchemeBearerToken   Scheme = "bearer_token"
)

// Principal es un value object efímero por-request. No se persiste.
type Principal struct {
	Client *core.Client
	Token  *core.OAuthToken

	// secretProven marca que el client presentó un secret válido (no solo que
	// el client tenga uno configurado).
	secretProven bool
}

// Anonymous es el acumulador inicial de la cadena de filtros.
func Anonymous() Principal { return Principal{} }

// ForPublicClient construye el principal de un client sin secret presentado.
func ForPublicClient(c *core.Client) Principal { return Principal{Client: c} }

// ForPrivateClient construye el principal de un client que probó su secret.
func ForPrivateClient(c *core.Client) Principal {
	return Principal{Client: c, secretProven: true}
}

// ForToken construye el principal de un bearer token resuelto.
func ForToken(c *core.Client, t *core.OAuthToken) Principal {
	return Principal{Client: c, Token: t}
}

// Scheme deriva el esquema: token ⇒ bearer; client con secret probado ⇒
// private; client ⇒ public; nada ⇒ none.
func (p Principal) Scheme() Scheme {
	switch {
	case p.Token != nil:
		return SchemeBearerToken
	case p.Client != nil && p.secretProven:
		return SchemeClientPrivate
	case p.Client != nil:
		return SchemeClientPublic
	default:
		return SchemeNone
	}
}

// Merge combina dos principals con la regla "same-or-one" sobre Client y
// Token. Dos Clients distintos, dos Tokens distintos, o más de un esquema
// no-none entre ambos lados ⇒ access_denied: un request no puede reclamar dos
// identidades a la vez.
func Merge(a, b Principal) (Principal, error) {
	client, err := sameOrOneClient(a.Client, b.Client)
	if err != nil {
		return Principal{}, err
	}
	token, err := sameOrOneToken(a.Token, b.Token)
	if err != nil {
		return Principal{}, err
	}

	// Más de un esquema no-none distinto entre ambos lados ⇒ denegado. El mismo
	// esquema de ambos lados solo sobrevive si same-or-one garantizó que es la
	// misma identidad (merge idempotente).
	if sa, sb := a.Scheme(), b.Scheme(); sa != SchemeNone && sb != SchemeNone && sa != sb {
		return Principal{}, oauth2.AccessDenied("conflicting authentication schemes")
	}

	return Principal{
		Client:       client,
		Token:        token,
		secretProven: a.secretProven || b.secretProven,
	}, nil
}

func sameOrOneClient(x, y *core.Client) (*core.Client, error) {
	switch {
	case x == nil:
		return y, nil
	case y == nil:
		return x, nil
	case x.ID == y.ID:
		return x, nil
	default:
		return nil, oauth2.AccessDenied("request authenticated as two different clients")
	}
}

func sameOrOneToken(x, y *core.OAuthToken) (*core.OAuthToken, error) {
	switch {
	case x == nil:
		return y, nil
	case y == nil:
		return x, nil
	case x.ID == y.ID:
		return x, nil
	default:
		return nil, oauth2.AccessDenied("request authenticated with two different tokens")
	}
}
