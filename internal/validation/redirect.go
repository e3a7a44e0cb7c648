package validation

import (
	"net/url"

	"github.com/dropDatabas3/o2server/internal/oauth2"
)

// ValidateRedirect valida un redirect_uri candidato contra la allow-list
// registrada del client.
//
// Reglas:
//   - Candidato vacío: si hay exactamente un URI registrado, se usa ese;
//     con cero o varios, invalid_request.
//   - scheme/host/port/path se comparan exactos contra cada registrado.
//   - Los pares query del registrado son requisitos: cada key=value del
//     registrado debe aparecer entre los parámetros del candidato para esa
//     key. El candidato puede sumar keys/values no listados, pero no puede
//     omitir ni contradecir un par requerido. Varios registrados que solo
//     difieren en query actúan como sets de requisitos alternativos.
func ValidateRedirect(candidate string, registered []string) (*url.URL, error) {
	if candidate == "" {
		if len(registered) == 1 {
			u, err := url.Parse(registered[0])
			if err != nil {
				return nil, oauth2.ServerError("registered redirect is not a valid URI")
			}
			return u, nil
		}
		return nil, oauth2.InvalidRequest("redirect_uri is required")
	}

	cu, err := url.Parse(candidate)
	if err != nil {
		return nil, oauth2.InvalidRequest("redirect_uri is not a valid URI")
	}
	cq := cu.Query()

	for _, reg := range registered {
		ru, err := url.Parse(reg)
		if err != nil {
			continue
		}
		if ru.Scheme != cu.Scheme || ru.Host != cu.Host || ru.Path != cu.Path {
			continue
		}
		if querySubset(ru.Query(), cq) {
			return cu, nil
		}
	}
	return nil, oauth2.InvalidRequest("redirect_uri does not match any registered redirect")
}

// querySubset: cada key=value de required debe estar presente en candidate.
func querySubset(required, candidate url.Values) bool {
	for key, vals := range required {
		for _, v := range vals {
			if !contains(candidate[key], v) {
				return false
			}
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
