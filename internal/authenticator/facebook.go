package authenticator

import (
	"context"
	"net/url"

	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/store/core"
)

// Endpoints fijos del Graph API. El client solo configura sus credenciales.
var facebookEndpoints = Endpoints{
	AuthURL:    "https://www.facebook.com/v19.0/dialog/oauth",
	TokenURL:   "https://graph.facebook.com/v19.0/oauth/access_token",
	ProfileURL: "https://graph.facebook.com/v19.0/me?fields=id,name,email",
	Scope:      "email public_profile",
}

// Facebook especializa el flujo genérico con los endpoints del Graph API y el
// parseo de su perfil.
type Facebook struct {
	OAuth2
}

func (f *Facebook) Type() string { return TypeFacebook }

func (f *Facebook) Validate(cfg map[string]string) error {
	return requireKeys(cfg, "client_id", "client_secret")
}

func (f *Facebook) Delegate(ctx context.Context, cfg map[string]string, callback *url.URL) (string, error) {
	if err := f.Validate(cfg); err != nil {
		return "", err
	}
	return delegateURL(facebookEndpoints, cfg["client_id"], callback)
}

func (f *Facebook) Authenticate(ctx context.Context, tx core.Tx, app *core.Application, cfg map[string]string, params map[string]string, callback *url.URL) (*core.Identity, error) {
	if err := f.Validate(cfg); err != nil {
		return nil, err
	}
	tr, err := resolveCallback(ctx, f.http, facebookEndpoints, cfg, params, callback)
	if err != nil {
		return nil, err
	}
	profile, err := fetchProfile(ctx, f.http, facebookEndpoints.ProfileURL, tr.AccessToken)
	if err != nil {
		return nil, err
	}
	claims := flattenProfile(profile)
	if claims["id"] == "" {
		return nil, oauth2.ThirdParty("facebook profile has no id")
	}
	return upsertIdentity(ctx, tx, app, f.Type(), claims["id"], claims)
}
