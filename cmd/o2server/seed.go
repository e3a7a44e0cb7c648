package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/o2server/internal/authenticator"
	"github.com/dropDatabas3/o2server/internal/observability/logger"
	"github.com/dropDatabas3/o2server/internal/security/password"
	"github.com/dropDatabas3/o2server/internal/store/core"
	"github.com/dropDatabas3/o2server/internal/validation"
)

// Formato del seed file: applications con sus clients y users password.
type seedFile struct {
	Applications []seedApplication `yaml:"applications"`
}

type seedApplication struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	Scopes      []string            `yaml:"scopes"`
	Roles       map[string][]string `yaml:"roles"` // rol → scopes permitidos
	DefaultRole string              `yaml:"default_role"`
	Clients     []seedClient        `yaml:"clients"`
	Users       []seedUser          `yaml:"users"`
}

type seedClient struct {
	ID             string              `yaml:"id"`
	Name           string              `yaml:"name"`
	Type           string              `yaml:"type"`
	Secret         string              `yaml:"secret"` // plano; se persiste el hash
	RedirectURIs   []string            `yaml:"redirect_uris"`
	AccessTTL      time.Duration       `yaml:"access_ttl"`
	RefreshTTL     time.Duration       `yaml:"refresh_ttl"`
	AuthCodeTTL    time.Duration       `yaml:"auth_code_ttl"`
	Authenticators []seedAuthenticator `yaml:"authenticators"`
}

type seedAuthenticator struct {
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

type seedUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Carga applications, clients y users desde un YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
			defer func() { _ = logger.Sync() }()

			b, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var sf seedFile
			if err := yaml.Unmarshal(b, &sf); err != nil {
				return err
			}

			ctx := context.Background()
			st, _, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			for _, sa := range sf.Applications {
				appID, err := seedApplicationInto(ctx, st, sa)
				if err != nil {
					return fmt.Errorf("application %q: %w", sa.Name, err)
				}
				logger.L().Info("application seeded", logger.ApplicationID(appID), logger.String("name", sa.Name))
			}
			logger.L().Info("seed done", logger.Count(len(sf.Applications)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed file")
	return cmd
}

func seedApplicationInto(ctx context.Context, st core.Store, sa seedApplication) (string, error) {
	for _, n := range sa.Scopes {
		if !validation.ValidScopeName(n) {
			return "", fmt.Errorf("invalid scope name %q", n)
		}
	}
	for role, scopes := range sa.Roles {
		for _, n := range scopes {
			if !validation.ValidScopeName(n) {
				return "", fmt.Errorf("role %q: invalid scope name %q", role, n)
			}
		}
	}
	app := &core.Application{
		ID:          orUUID(sa.ID),
		Name:        sa.Name,
		Scopes:      toScopeMap(sa.Scopes),
		Roles:       make(map[string]core.Role, len(sa.Roles)),
		DefaultRole: sa.DefaultRole,
		CreatedAt:   time.Now().UTC(),
	}
	for name, scopes := range sa.Roles {
		app.Roles[name] = core.Role{Name: name, Scopes: toScopeMap(scopes)}
	}
	if err := st.CreateApplication(ctx, app); err != nil {
		return "", err
	}

	for _, sc := range sa.Clients {
		// un client client_credentials sin secret no puede autenticarse nunca
		if core.ClientType(sc.Type) == core.ClientCredentials && sc.Secret == "" {
			return "", fmt.Errorf("client %q: client_credentials requires a secret", sc.Name)
		}
		c := &core.Client{
			ID:            orUUID(sc.ID),
			ApplicationID: app.ID,
			Name:          sc.Name,
			Type:          core.ClientType(sc.Type),
			AuthCodeTTL:   sc.AuthCodeTTL,
			AccessTTL:     sc.AccessTTL,
			RefreshTTL:    sc.RefreshTTL,
			RedirectURIs:  sc.RedirectURIs,
			CreatedAt:     time.Now().UTC(),
		}
		if sc.Secret != "" {
			h, err := password.Hash(password.Default, sc.Secret)
			if err != nil {
				return "", err
			}
			c.SecretHash = &h
		}
		for _, a := range sc.Authenticators {
			c.Authenticators = append(c.Authenticators, core.Authenticator{Type: a.Type, Config: a.Config})
		}
		if err := st.CreateClient(ctx, c); err != nil {
			return "", err
		}
	}

	for _, su := range sa.Users {
		role := su.Role
		if role == "" {
			role = app.DefaultRole
		}
		user := &core.User{ID: uuid.NewString(), ApplicationID: app.ID, Role: role, CreatedAt: time.Now().UTC()}
		if err := st.CreateUser(ctx, user); err != nil {
			return "", err
		}
		h, err := password.Hash(password.Default, su.Password)
		if err != nil {
			return "", err
		}
		ident := &core.Identity{
			ID:            uuid.NewString(),
			UserID:        user.ID,
			ApplicationID: app.ID,
			Type:          authenticator.TypePassword,
			RemoteID:      su.Username,
			PasswordHash:  &h,
			CreatedAt:     time.Now().UTC(),
		}
		if err := st.CreateIdentity(ctx, ident); err != nil {
			return "", err
		}
	}
	return app.ID, nil
}

func toScopeMap(names []string) map[string]core.Scope {
	m := make(map[string]core.Scope, len(names))
	for _, n := range names {
		m[n] = core.Scope{Name: n}
	}
	return m
}

func orUUID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
