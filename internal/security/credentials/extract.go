// Package credentials extrae las credenciales de client de un request HTTP.
//
// Fuentes admitidas: header Authorization Basic, body form POST
// (client_id/client_secret) y query string GET (solo client_id). Una sola
// fuente puede aportar credenciales; más de una, o un client_secret en la
// query string, es un request inválido — no un fallback.
package credentials

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/google/uuid"
)

type Source string

const (
	SourceNone   Source = ""
	SourceBasic  Source = "basic"
	SourceBody   Source = "body"
	SourceQuery  Source = "query"
)

type Credentials struct {
	ClientID string
	Secret   string
	Source   Source
}

// Present indica si alguna fuente aportó un client_id.
func (c Credentials) Present() bool { return c.Source != SourceNone }

// FromRequest aplica las reglas de extracción. Sin credenciales en ningún
// lado devuelve el cero (no es error: habilita endpoints anónimos/públicos).
func FromRequest(r *http.Request) (Credentials, error) {
	// Un secret en la URL termina en logs y caches de proxies: rechazo duro,
	// independiente del resto de los parámetros.
	if r.URL.Query().Has("client_secret") {
		return Credentials{}, oauth2.InvalidRequest("client_secret must not be sent in the query string")
	}

	var found []Credentials

	if c, err := fromBasic(r); err != nil {
		return Credentials{}, err
	} else if c.Present() {
		found = append(found, c)
	}

	if c, err := fromBody(r); err != nil {
		return Credentials{}, err
	} else if c.Present() {
		found = append(found, c)
	}

	if q := strings.TrimSpace(r.URL.Query().Get("client_id")); q != "" {
		found = append(found, Credentials{ClientID: q, Source: SourceQuery})
	}

	switch len(found) {
	case 0:
		return Credentials{}, nil
	case 1:
		c := found[0]
		if _, err := uuid.Parse(c.ClientID); err != nil {
			return Credentials{}, oauth2.InvalidRequest("client_id is not a valid id")
		}
		return c, nil
	default:
		// Doble autenticación: falla dura aunque ambas fuentes coincidan.
		return Credentials{}, oauth2.InvalidRequest("client credentials supplied by more than one source")
	}
}

func fromBasic(r *http.Request) (Credentials, error) {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "basic ") {
		return Credentials{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ah[len("Basic "):]))
	if err != nil {
		return Credentials{}, oauth2.InvalidRequest("malformed Basic authorization header")
	}
	id, secret, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return Credentials{}, oauth2.InvalidRequest("malformed Basic authorization header")
	}
	return Credentials{ClientID: id, Secret: secret, Source: SourceBasic}, nil
}

func fromBody(r *http.Request) (Credentials, error) {
	if r.Method != http.MethodPost {
		return Credentials{}, nil
	}
	if err := r.ParseForm(); err != nil {
		return Credentials{}, oauth2.InvalidRequest("malformed form body")
	}
	id := strings.TrimSpace(r.PostForm.Get("client_id"))
	secret := r.PostForm.Get("client_secret")
	if id == "" {
		if secret != "" {
			return Credentials{}, oauth2.InvalidRequest("client_secret without client_id")
		}
		return Credentials{}, nil
	}
	return Credentials{ClientID: id, Secret: secret, Source: SourceBody}, nil
}
