package validation

import (
	"regexp"
	"strings"

	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/store/core"
)

// Scope name rules:
// - Lowercase only.
// - Start and end with [a-z0-9].
// - Middle chars may include [a-z0-9:_.-].
// - Length 1..64.
var scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidScopeName returns true if the provided scope name matches the allowed pattern.
func ValidScopeName(name string) bool {
	return scopeNameRe.MatchString(name)
}

// ValidateScope valida el scope pedido (forma wire, space-separated) contra el
// set permitido. Pedido vacío ⇒ map vacío. Cualquier nombre fuera de allowed ⇒
// invalid_scope. allowed nil/vacío con pedido no vacío ⇒ invalid_scope.
func ValidateScope(requested string, allowed map[string]core.Scope) (map[string]core.Scope, error) {
	names := strings.Fields(requested)
	out := make(map[string]core.Scope, len(names))
	if len(names) == 0 {
		return out, nil
	}
	if len(allowed) == 0 {
		return nil, oauth2.InvalidScope("no scopes are defined")
	}
	for _, n := range names {
		s, ok := allowed[n]
		if !ok {
			return nil, oauth2.InvalidScope("unknown scope %q", n)
		}
		out[n] = s
	}
	return out, nil
}

// RevalidateScope es ValidateScope más la regla de no-escalación: en un refresh
// no se puede pedir un scope que no estuviera en el grant original, aunque la
// aplicación todavía lo defina. La intersección con allowed absorbe scopes que
// la aplicación dejó de definir con el tiempo.
func RevalidateScope(requested string, granted []string, allowed map[string]core.Scope) (map[string]core.Scope, error) {
	if granted == nil || allowed == nil {
		return nil, oauth2.InvalidScope("nothing was previously granted")
	}
	names := strings.Fields(requested)
	out := make(map[string]core.Scope, len(names))
	if len(names) == 0 {
		return out, nil
	}
	grantedSet := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		grantedSet[g] = struct{}{}
	}
	for _, n := range names {
		if _, ok := grantedSet[n]; !ok {
			return nil, oauth2.InvalidScope("scope %q was not originally granted", n)
		}
		s, ok := allowed[n]
		if !ok {
			return nil, oauth2.InvalidScope("scope %q is no longer available", n)
		}
		out[n] = s
	}
	return out, nil
}

// IntersectScopes devuelve requested ∩ allowed preservando las entidades de allowed.
// No falla: se usa para acotar el grant al rol del user resuelto.
func IntersectScopes(requested []string, allowed map[string]core.Scope) map[string]core.Scope {
	out := make(map[string]core.Scope, len(requested))
	for _, n := range requested {
		if s, ok := allowed[n]; ok {
			out[n] = s
		}
	}
	return out
}
