package flow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/security/token"
	"github.com/dropDatabas3/o2server/internal/store/core"
)

// 32 bytes de entropía por token opaco (43 chars base64url).
const opaqueTokenBytes = 32

// issued acarrea el valor opaco recién generado junto al registro persistible.
// Solo el hash toca el store; el raw viaja una única vez hacia el caller.
type issued struct {
	raw string
	tok *core.OAuthToken
}

func mint(typ core.TokenType, clientID string, identityID *string, scopes []string, redirectURI, issuer string, now time.Time, ttl time.Duration) (issued, error) {
	raw, err := token.GenerateOpaqueToken(opaqueTokenBytes)
	if err != nil {
		return issued{}, oauth2.ServerError("generating token")
	}
	if scopes == nil {
		scopes = []string{}
	}
	return issued{
		raw: raw,
		tok: &core.OAuthToken{
			ID:          uuid.NewString(),
			Type:        typ,
			TokenHash:   token.SHA256Base64URL(raw),
			ClientID:    clientID,
			IdentityID:  identityID,
			Scopes:      scopes,
			RedirectURI: redirectURI,
			Issuer:      issuer,
			IssuedAt:    now,
			ExpiresAt:   now.Add(ttl),
		},
	}, nil
}

// issuePair emite un bearer y su refresh asociado, enlazados en ambos
// sentidos, dentro de la transacción del caller. La rotación de refresh borra
// el par viejo en la misma tx que crea este.
func (d *Deps) issuePair(ctx context.Context, tx core.Tx, c *core.Client, identityID *string, scopes []string) (access, refresh issued, err error) {
	now := d.now()
	access, err = mint(core.TokenBearer, c.ID, identityID, scopes, "", d.Issuer, now, c.AccessLifetime())
	if err != nil {
		return issued{}, issued{}, err
	}
	refresh, err = mint(core.TokenRefresh, c.ID, identityID, scopes, "", d.Issuer, now, c.RefreshLifetime())
	if err != nil {
		return issued{}, issued{}, err
	}
	access.tok.PairedTokenID = &refresh.tok.ID
	refresh.tok.PairedTokenID = &access.tok.ID

	if err := tx.CreateToken(ctx, access.tok); err != nil {
		return issued{}, issued{}, oauth2.ServerError("persisting access token")
	}
	if err := tx.CreateToken(ctx, refresh.tok); err != nil {
		return issued{}, issued{}, oauth2.ServerError("persisting refresh token")
	}
	return access, refresh, nil
}

// issueBearer emite solo un access token (client_credentials e implicit).
func (d *Deps) issueBearer(ctx context.Context, tx core.Tx, c *core.Client, identityID *string, scopes []string) (issued, error) {
	access, err := mint(core.TokenBearer, c.ID, identityID, scopes, "", d.Issuer, d.now(), c.AccessLifetime())
	if err != nil {
		return issued{}, err
	}
	if err := tx.CreateToken(ctx, access.tok); err != nil {
		return issued{}, oauth2.ServerError("persisting access token")
	}
	return access, nil
}
