package core

import (
	"context"
	"time"
)

// Repository son las operaciones de entidad disponibles tanto fuera como dentro
// de una transacción. Devuelve ErrNotFound / ErrConflict según corresponda.
type Repository interface {
	// Registry
	CreateApplication(ctx context.Context, a *Application) error
	GetApplication(ctx context.Context, id string) (*Application, error)
	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id string) (*Client, error)

	// Users / identities
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	CreateIdentity(ctx context.Context, i *Identity) error
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	// FindIdentity busca por (type, remoteID, applicationID).
	FindIdentity(ctx context.Context, appID, typ, remoteID string) (*Identity, error)
	UpdateIdentityClaims(ctx context.Context, id string, claims map[string]string) error

	// Tokens (lookup siempre por hash del valor opaco). typ vacío matchea
	// cualquier tipo (revocación/introspección).
	CreateToken(ctx context.Context, t *OAuthToken) error
	GetTokenByHash(ctx context.Context, typ TokenType, hash string) (*OAuthToken, error)
	GetToken(ctx context.Context, id string) (*OAuthToken, error)
	DeleteToken(ctx context.Context, id string) error

	// Estados intermedios de /authorize
	CreateAuthenticatorState(ctx context.Context, s *AuthenticatorState) error
	GetAuthenticatorState(ctx context.Context, id string) (*AuthenticatorState, error)
	DeleteAuthenticatorState(ctx context.Context, id string) error
}

// Tx es un handle transaccional: mismas operaciones más commit/rollback.
// El boundary lo posee el handler HTTP de nivel superior, no la lógica de negocio.
type Tx interface {
	Repository
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store es el punto de entrada: lecturas sueltas + apertura de transacciones.
type Store interface {
	Repository
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Clock permite inyectar el tiempo en tests (expiración lazy de tokens).
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }
