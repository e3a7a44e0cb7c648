package validation

import (
	"testing"

	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/store/core"
)

func scopeSet(names ...string) map[string]core.Scope {
	m := make(map[string]core.Scope, len(names))
	for _, n := range names {
		m[n] = core.Scope{Name: n}
	}
	return m
}

func TestValidScopeName(t *testing.T) {
	valids := []string{"a", "profile", "profile:read", "a_b-c.d:scope2"}
	for _, v := range valids {
		if !ValidScopeName(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
	invalids := []string{"", ":lead", "trail:", "bad space", "UPPER", "semicolon;hack"}
	for _, v := range invalids {
		if ValidScopeName(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}

func TestValidateScope_Empty(t *testing.T) {
	for _, req := range []string{"", "   "} {
		got, err := ValidateScope(req, scopeSet("debug"))
		if err != nil {
			t.Fatalf("requested=%q: unexpected error %v", req, err)
		}
		if len(got) != 0 {
			t.Fatalf("requested=%q: expected empty result, got %v", req, got)
		}
	}
}

func TestValidateScope_SubsetOfAllowed(t *testing.T) {
	allowed := scopeSet("debug", "profile", "email")
	got, err := ValidateScope("debug profile", allowed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 scopes, got %d", len(got))
	}
	for n := range got {
		if _, ok := allowed[n]; !ok {
			t.Fatalf("result key %q not in allowed", n)
		}
	}
}

func TestValidateScope_UnknownName(t *testing.T) {
	_, err := ValidateScope("debug nope", scopeSet("debug"))
	if !oauth2.IsKind(err, oauth2.KindInvalidScope) {
		t.Fatalf("expected invalid_scope, got %v", err)
	}
}

func TestValidateScope_NilAllowed(t *testing.T) {
	_, err := ValidateScope("debug", nil)
	if !oauth2.IsKind(err, oauth2.KindInvalidScope) {
		t.Fatalf("expected invalid_scope, got %v", err)
	}
}

func TestRevalidateScope_NoEscalation(t *testing.T) {
	allowed := scopeSet("debug", "extra")
	// "extra" sigue definido en la app, pero no estaba en el grant original.
	_, err := RevalidateScope("extra", []string{"debug"}, allowed)
	if !oauth2.IsKind(err, oauth2.KindInvalidScope) {
		t.Fatalf("expected invalid_scope on escalation, got %v", err)
	}
}

func TestRevalidateScope_IntersectsWithCurrentAllowed(t *testing.T) {
	// "gone" estaba en el grant pero la aplicación ya no lo define.
	_, err := RevalidateScope("gone", []string{"gone", "debug"}, scopeSet("debug"))
	if !oauth2.IsKind(err, oauth2.KindInvalidScope) {
		t.Fatalf("expected invalid_scope for dropped scope, got %v", err)
	}

	got, err := RevalidateScope("debug", []string{"gone", "debug"}, scopeSet("debug"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got["debug"]; !ok || len(got) != 1 {
		t.Fatalf("expected exactly {debug}, got %v", got)
	}
}

func TestRevalidateScope_NilInputs(t *testing.T) {
	if _, err := RevalidateScope("debug", nil, scopeSet("debug")); !oauth2.IsKind(err, oauth2.KindInvalidScope) {
		t.Fatalf("expected invalid_scope for nil granted, got %v", err)
	}
	if _, err := RevalidateScope("debug", []string{"debug"}, nil); !oauth2.IsKind(err, oauth2.KindInvalidScope) {
		t.Fatalf("expected invalid_scope for nil allowed, got %v", err)
	}
}

func TestRevalidateScope_EmptyRequestedDeescalates(t *testing.T) {
	got, err := RevalidateScope("", []string{"debug"}, scopeSet("debug"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestIntersectScopes(t *testing.T) {
	got := IntersectScopes([]string{"debug", "nope"}, scopeSet("debug", "profile"))
	if len(got) != 1 {
		t.Fatalf("expected 1 scope, got %v", got)
	}
	if _, ok := got["debug"]; !ok {
		t.Fatalf("expected debug in result")
	}
}
