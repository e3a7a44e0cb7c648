package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dropDatabas3/o2server/internal/store/core"
)

func TestTxCommitPublishes(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	app := &core.Application{ID: "app1", Name: "demo"}
	if err := tx.CreateApplication(ctx, app); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Antes del commit el tx ve lo staged...
	if _, err := tx.GetApplication(ctx, "app1"); err != nil {
		t.Fatalf("staged read: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// ...y después del commit lo ve el store.
	if _, err := s.GetApplication(ctx, "app1"); err != nil {
		t.Fatalf("post-commit read: %v", err)
	}
}

func TestTxRollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateApplication(ctx, &core.Application{ID: "app1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx, _ := s.Begin(ctx)
	tok := &core.OAuthToken{ID: "t1", Type: core.TokenBearer, ClientID: "c1", TokenHash: "h1"}
	if err := tx.CreateToken(ctx, tok); err != nil {
		t.Fatalf("create token: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err := s.GetToken(ctx, "t1"); err != core.ErrNotFound {
		t.Fatalf("expected ErrNotFound after rollback, got %v", err)
	}
}

func TestDeleteTokenRemovesHashIndex(t *testing.T) {
	ctx := context.Background()
	s := New()
	tok := &core.OAuthToken{ID: "t1", Type: core.TokenAuthorization, TokenHash: "h1",
		IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
	if err := s.CreateToken(ctx, tok); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.GetTokenByHash(ctx, core.TokenAuthorization, "h1"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := s.DeleteToken(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetTokenByHash(ctx, core.TokenAuthorization, "h1"); err != core.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteToken(ctx, "t1"); err != core.ErrNotFound {
		t.Fatalf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestGetTokenByHash_TypeFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.CreateToken(ctx, &core.OAuthToken{ID: "t1", Type: core.TokenRefresh, TokenHash: "h1"})

	if _, err := s.GetTokenByHash(ctx, core.TokenBearer, "h1"); err != core.ErrNotFound {
		t.Fatalf("wrong type should be ErrNotFound, got %v", err)
	}
	if _, err := s.GetTokenByHash(ctx, "", "h1"); err != nil {
		t.Fatalf("any-type lookup: %v", err)
	}
}

func TestIdentityUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()
	i1 := &core.Identity{ID: "i1", ApplicationID: "app1", Type: "facebook", RemoteID: "fb123", UserID: "u1"}
	if err := s.CreateIdentity(ctx, i1); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := &core.Identity{ID: "i2", ApplicationID: "app1", Type: "facebook", RemoteID: "fb123", UserID: "u2"}
	if err := s.CreateIdentity(ctx, dup); err != core.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := s.FindIdentity(ctx, "app1", "facebook", "fb123")
	if err != nil || got.ID != "i1" {
		t.Fatalf("find: %v %v", got, err)
	}
}
