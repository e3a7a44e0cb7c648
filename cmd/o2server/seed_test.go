package main

import (
	"context"
	"testing"

	"github.com/dropDatabas3/o2server/internal/store/core"
	"github.com/dropDatabas3/o2server/internal/store/memory"
)

func TestSeedApplication(t *testing.T) {
	st := memory.New()
	appID, err := seedApplicationInto(context.Background(), st, seedApplication{
		Name:        "demo",
		Scopes:      []string{"read", "write"},
		Roles:       map[string][]string{"user": {"read"}},
		DefaultRole: "user",
		Clients: []seedClient{
			{Name: "m2m", Type: "client_credentials", Secret: "shhh"},
		},
		Users: []seedUser{{Username: "ana", Password: "s3cret"}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	app, err := st.GetApplication(context.Background(), appID)
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	if _, ok := app.Scopes["write"]; !ok {
		t.Errorf("scopes = %v", app.Scopes)
	}
	ident, err := st.FindIdentity(context.Background(), appID, "password", "ana")
	if err != nil {
		t.Fatalf("find identity: %v", err)
	}
	user, err := st.GetUser(context.Background(), ident.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Role != "user" {
		t.Errorf("role = %q, want default role", user.Role)
	}
}

func TestSeedRejectsSecretlessClientCredentials(t *testing.T) {
	st := memory.New()
	_, err := seedApplicationInto(context.Background(), st, seedApplication{
		Name:    "demo",
		Scopes:  []string{"read"},
		Clients: []seedClient{{Name: "m2m", Type: string(core.ClientCredentials)}},
	})
	if err == nil {
		t.Fatal("secretless client_credentials client must be rejected")
	}
}

func TestSeedRejectsInvalidScopeName(t *testing.T) {
	st := memory.New()
	_, err := seedApplicationInto(context.Background(), st, seedApplication{
		Name:   "demo",
		Scopes: []string{"not a scope"},
	})
	if err == nil {
		t.Fatal("malformed scope name must be rejected")
	}
}
