package core

import (
	"sort"
	"time"
)

// ClientType define el grant principal que el client tiene permitido.
type ClientType string

const (
	ClientAuthorizationGrant ClientType = "authorization_grant"
	ClientImplicit           ClientType = "implicit"
	ClientCredentials        ClientType = "client_credentials"
	ClientOwnerCredentials   ClientType = "owner_credentials"
)

// TokenType clasifica los OAuthToken persistidos.
type TokenType string

const (
	TokenAuthorization TokenType = "authorization" // authorization code (1 uso)
	TokenBearer        TokenType = "bearer"
	TokenRefresh       TokenType = "refresh"
)

// TTLs por defecto cuando el client no configura los suyos.
const (
	DefaultAuthCodeTTL = 5 * time.Minute
	DefaultAccessTTL   = 600 * time.Second
	DefaultRefreshTTL  = 30 * 24 * time.Hour
)

type Application struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Scopes      map[string]Scope `json:"scopes"` // únicos por nombre
	Roles       map[string]Role  `json:"roles"`  // únicos por nombre
	DefaultRole string           `json:"default_role"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Scope es la unidad de permiso nombrada de una Application.
type Scope struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Role agrupa los scopes permitidos para un User.
type Role struct {
	Name   string           `json:"name"`
	Scopes map[string]Scope `json:"scopes"`
}

type Client struct {
	ID            string     `json:"id"`
	ApplicationID string     `json:"application_id"`
	Name          string     `json:"name"`
	Type          ClientType `json:"type"`

	// SecretHash nil ⇒ client público. ClientCredentials exige secret.
	SecretHash *string `json:"-"`

	AuthCodeTTL time.Duration `json:"auth_code_ttl"`
	AccessTTL   time.Duration `json:"access_ttl"`
	RefreshTTL  time.Duration `json:"refresh_ttl"`

	RedirectURIs   []string        `json:"redirect_uris"`
	Authenticators []Authenticator `json:"authenticators"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Public indica si el client carece de secret confidencial.
func (c *Client) Public() bool { return c.SecretHash == nil || *c.SecretHash == "" }

func (c *Client) AuthCodeLifetime() time.Duration {
	if c.AuthCodeTTL > 0 {
		return c.AuthCodeTTL
	}
	return DefaultAuthCodeTTL
}

func (c *Client) AccessLifetime() time.Duration {
	if c.AccessTTL > 0 {
		return c.AccessTTL
	}
	return DefaultAccessTTL
}

func (c *Client) RefreshLifetime() time.Duration {
	if c.RefreshTTL > 0 {
		return c.RefreshTTL
	}
	return DefaultRefreshTTL
}

// Authenticator busca la configuración del tipo dado en el client.
func (c *Client) Authenticator(typ string) *Authenticator {
	for i := range c.Authenticators {
		if c.Authenticators[i].Type == typ {
			return &c.Authenticators[i]
		}
	}
	return nil
}

// Authenticator es la configuración por-client de un IdP (p.ej. client_id/client_secret upstream).
type Authenticator struct {
	Type   string            `json:"type"` // password | oauth2 | facebook
	Config map[string]string `json:"config"`
}

type User struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
}

// Identity vincula un User con una cuenta remota de un IdP.
// (Type, RemoteID, ApplicationID) identifica a lo sumo una identidad.
type Identity struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	ApplicationID string            `json:"application_id"`
	Type          string            `json:"type"`
	RemoteID      string            `json:"remote_id"`
	Claims        map[string]string `json:"claims"`
	PasswordHash  *string           `json:"-"` // solo para el IdP password
	CreatedAt     time.Time         `json:"created_at"`
}

// AuthenticatorState es el registro intermedio de un flujo redirect-based.
// Nace en /authorize, se consume y borra en el callback.
type AuthenticatorState struct {
	ID                string    `json:"id"`
	ClientID          string    `json:"client_id"`
	AuthenticatorType string    `json:"authenticator_type"`
	ResponseType      string    `json:"response_type"` // code | token
	ClientState       string    `json:"client_state"`  // state del client, se hace eco
	Scopes            []string  `json:"scopes"`
	RedirectURI       string    `json:"redirect_uri"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

func (s *AuthenticatorState) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// OAuthToken representa authorization codes, access tokens y refresh tokens.
// El valor opaco nunca se persiste: solo su hash (sha256 base64url).
type OAuthToken struct {
	ID            string    `json:"id"`
	Type          TokenType `json:"type"`
	TokenHash     string    `json:"-"`
	ClientID      string    `json:"client_id"`
	IdentityID    *string   `json:"identity_id,omitempty"` // nil para client_credentials
	Scopes        []string  `json:"scopes"`                // orden determinístico (sorted)
	RedirectURI   string    `json:"redirect_uri,omitempty"`
	PairedTokenID *string   `json:"paired_token_id,omitempty"` // refresh → su access asociado
	Issuer        string    `json:"issuer,omitempty"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (t *OAuthToken) Expired(now time.Time) bool { return now.After(t.ExpiresAt) }

// SortedScopeNames devuelve los nombres de un scope map en orden estable.
func SortedScopeNames(m map[string]Scope) []string {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RoleScopes resuelve el scope set del rol de un user; map vacío si el rol no existe.
func (a *Application) RoleScopes(role string) map[string]Scope {
	if a == nil || a.Roles == nil {
		return map[string]Scope{}
	}
	r, ok := a.Roles[role]
	if !ok || r.Scopes == nil {
		return map[string]Scope{}
	}
	return r.Scopes
}
