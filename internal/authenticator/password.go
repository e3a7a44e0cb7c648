package authenticator

import (
	"context"
	"net/url"

	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/security/password"
	"github.com/dropDatabas3/o2server/internal/store/core"
)

// Password autentica credenciales locales de forma síncrona. No participa de
// flows redirect-based: el grant password lo invoca directo.
type Password struct{}

func (p *Password) Type() string { return TypePassword }

// Sin config upstream que validar.
func (p *Password) Validate(cfg map[string]string) error { return nil }

func (p *Password) Delegate(ctx context.Context, cfg map[string]string, callback *url.URL) (string, error) {
	return "", oauth2.Misconfigured("the password authenticator cannot delegate")
}

// Authenticate espera params["username"] y params["password"]. La identidad
// password usa el username como remote id y guarda el hash argon2id.
// Credenciales incorrectas devuelven (nil, nil): el caller decide el error.
func (p *Password) Authenticate(ctx context.Context, tx core.Tx, app *core.Application, cfg map[string]string, params map[string]string, callback *url.URL) (*core.Identity, error) {
	username := params["username"]
	plain := params["password"]
	if username == "" || plain == "" {
		return nil, oauth2.InvalidRequest("username and password are required")
	}
	ident, err := tx.FindIdentity(ctx, app.ID, TypePassword, username)
	if err == core.ErrNotFound {
		// Mismo resultado que un password incorrecto: no filtramos existencia.
		return nil, nil
	}
	if err != nil {
		return nil, oauth2.ServerError("identity lookup")
	}
	if ident.PasswordHash == nil || !password.Verify(plain, *ident.PasswordHash) {
		return nil, nil
	}
	return ident, nil
}
