package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dropDatabas3/o2server/internal/store/core"
)

type repo struct{ q querier }

// ───────────────── applications ─────────────────

func (r repo) CreateApplication(ctx context.Context, a *core.Application) error {
	scopes, err := json.Marshal(a.Scopes)
	if err != nil {
		return err
	}
	roles, err := json.Marshal(a.Roles)
	if err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO applications (id, name, scopes, roles, default_role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Name, scopes, roles, a.DefaultRole, a.CreatedAt)
	return mapErr(err)
}

func (r repo) GetApplication(ctx context.Context, id string) (*core.Application, error) {
	var (
		a            core.Application
		scopes, roles []byte
	)
	err := r.q.QueryRow(ctx, `
		SELECT id, name, scopes, roles, default_role, created_at
		FROM applications WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &scopes, &roles, &a.DefaultRole, &a.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(scopes, &a.Scopes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(roles, &a.Roles); err != nil {
		return nil, err
	}
	return &a, nil
}

// ───────────────── clients ─────────────────

func (r repo) CreateClient(ctx context.Context, c *core.Client) error {
	uris, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return err
	}
	auths, err := json.Marshal(c.Authenticators)
	if err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO clients (id, application_id, name, type, secret_hash,
			auth_code_ttl_s, access_ttl_s, refresh_ttl_s, redirect_uris, authenticators, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.ApplicationID, c.Name, string(c.Type), c.SecretHash,
		int64(c.AuthCodeTTL/time.Second), int64(c.AccessTTL/time.Second), int64(c.RefreshTTL/time.Second),
		uris, auths, c.CreatedAt)
	return mapErr(err)
}

func (r repo) GetClient(ctx context.Context, id string) (*core.Client, error) {
	var (
		c                     core.Client
		typ                   string
		codeS, accessS, refrS int64
		uris, auths           []byte
	)
	err := r.q.QueryRow(ctx, `
		SELECT id, application_id, name, type, secret_hash,
			auth_code_ttl_s, access_ttl_s, refresh_ttl_s, redirect_uris, authenticators, created_at
		FROM clients WHERE id = $1`, id).
		Scan(&c.ID, &c.ApplicationID, &c.Name, &typ, &c.SecretHash,
			&codeS, &accessS, &refrS, &uris, &auths, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	c.Type = core.ClientType(typ)
	c.AuthCodeTTL = time.Duration(codeS) * time.Second
	c.AccessTTL = time.Duration(accessS) * time.Second
	c.RefreshTTL = time.Duration(refrS) * time.Second
	if err := json.Unmarshal(uris, &c.RedirectURIs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(auths, &c.Authenticators); err != nil {
		return nil, err
	}
	return &c, nil
}

// ───────────────── users / identities ─────────────────

func (r repo) CreateUser(ctx context.Context, u *core.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO users (id, application_id, role, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.ApplicationID, u.Role, u.CreatedAt)
	return mapErr(err)
}

func (r repo) GetUser(ctx context.Context, id string) (*core.User, error) {
	var u core.User
	err := r.q.QueryRow(ctx, `
		SELECT id, application_id, role, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.ApplicationID, &u.Role, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r repo) CreateIdentity(ctx context.Context, i *core.Identity) error {
	claims, err := json.Marshal(i.Claims)
	if err != nil {
		return err
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO identities (id, user_id, application_id, type, remote_id, claims, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		i.ID, i.UserID, i.ApplicationID, i.Type, i.RemoteID, claims, i.PasswordHash, i.CreatedAt)
	return mapErr(err)
}

func (r repo) scanIdentity(row interface{ Scan(...any) error }) (*core.Identity, error) {
	var (
		i      core.Identity
		claims []byte
	)
	err := row.Scan(&i.ID, &i.UserID, &i.ApplicationID, &i.Type, &i.RemoteID, &claims, &i.PasswordHash, &i.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(claims, &i.Claims); err != nil {
		return nil, err
	}
	return &i, nil
}

func (r repo) GetIdentity(ctx context.Context, id string) (*core.Identity, error) {
	return r.scanIdentity(r.q.QueryRow(ctx, `
		SELECT id, user_id, application_id, type, remote_id, claims, password_hash, created_at
		FROM identities WHERE id = $1`, id))
}

func (r repo) FindIdentity(ctx context.Context, appID, typ, remoteID string) (*core.Identity, error) {
	return r.scanIdentity(r.q.QueryRow(ctx, `
		SELECT id, user_id, application_id, type, remote_id, claims, password_hash, created_at
		FROM identities WHERE application_id = $1 AND type = $2 AND remote_id = $3`,
		appID, typ, remoteID))
}

func (r repo) UpdateIdentityClaims(ctx context.Context, id string, claims map[string]string) error {
	b, err := json.Marshal(claims)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `UPDATE identities SET claims = $2 WHERE id = $1`, id, b)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ───────────────── tokens ─────────────────

func (r repo) CreateToken(ctx context.Context, t *core.OAuthToken) error {
	scopes, err := json.Marshal(t.Scopes)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO oauth_tokens (id, type, token_hash, client_id, identity_id, scopes,
			redirect_uri, paired_token_id, issuer, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, string(t.Type), t.TokenHash, t.ClientID, t.IdentityID, scopes,
		t.RedirectURI, t.PairedTokenID, t.Issuer, t.IssuedAt, t.ExpiresAt)
	return mapErr(err)
}

func (r repo) scanToken(row interface{ Scan(...any) error }) (*core.OAuthToken, error) {
	var (
		t      core.OAuthToken
		typ    string
		scopes []byte
	)
	err := row.Scan(&t.ID, &typ, &t.TokenHash, &t.ClientID, &t.IdentityID, &scopes,
		&t.RedirectURI, &t.PairedTokenID, &t.Issuer, &t.IssuedAt, &t.ExpiresAt)
	if err != nil {
		return nil, mapErr(err)
	}
	t.Type = core.TokenType(typ)
	if err := json.Unmarshal(scopes, &t.Scopes); err != nil {
		return nil, err
	}
	return &t, nil
}

const tokenCols = `id, type, token_hash, client_id, identity_id, scopes,
	redirect_uri, paired_token_id, issuer, issued_at, expires_at`

func (r repo) GetTokenByHash(ctx context.Context, typ core.TokenType, hash string) (*core.OAuthToken, error) {
	if typ == "" {
		return r.scanToken(r.q.QueryRow(ctx,
			`SELECT `+tokenCols+` FROM oauth_tokens WHERE token_hash = $1`, hash))
	}
	return r.scanToken(r.q.QueryRow(ctx,
		`SELECT `+tokenCols+` FROM oauth_tokens WHERE token_hash = $1 AND type = $2`,
		hash, string(typ)))
}

func (r repo) GetToken(ctx context.Context, id string) (*core.OAuthToken, error) {
	return r.scanToken(r.q.QueryRow(ctx,
		`SELECT `+tokenCols+` FROM oauth_tokens WHERE id = $1`, id))
}

func (r repo) DeleteToken(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM oauth_tokens WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ───────────────── authenticator states ─────────────────

func (r repo) CreateAuthenticatorState(ctx context.Context, s *core.AuthenticatorState) error {
	scopes, err := json.Marshal(s.Scopes)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO authenticator_states (id, client_id, authenticator_type, response_type,
			client_state, scopes, redirect_uri, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.ClientID, s.AuthenticatorType, s.ResponseType,
		s.ClientState, scopes, s.RedirectURI, s.CreatedAt, s.ExpiresAt)
	return mapErr(err)
}

func (r repo) GetAuthenticatorState(ctx context.Context, id string) (*core.AuthenticatorState, error) {
	var (
		s      core.AuthenticatorState
		scopes []byte
	)
	err := r.q.QueryRow(ctx, `
		SELECT id, client_id, authenticator_type, response_type, client_state, scopes,
			redirect_uri, created_at, expires_at
		FROM authenticator_states WHERE id = $1`, id).
		Scan(&s.ID, &s.ClientID, &s.AuthenticatorType, &s.ResponseType, &s.ClientState, &scopes,
			&s.RedirectURI, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(scopes, &s.Scopes); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r repo) DeleteAuthenticatorState(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM authenticator_states WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
