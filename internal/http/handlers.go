package http

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/o2server/internal/oauth2"
	"github.com/dropDatabas3/o2server/internal/oauth2/flow"
	"github.com/dropDatabas3/o2server/internal/observability/logger"
	"github.com/dropDatabas3/o2server/internal/security/token"
	"github.com/dropDatabas3/o2server/internal/store/core"
	"github.com/dropDatabas3/o2server/internal/validation"
)

// Límite del form del token endpoint: nadie manda 64KB de credenciales.
const maxFormBytes = 64 << 10

// ─────────────── POST /token ───────────────

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		WriteOAuthError(w, oauth2.InvalidRequest("malformed form body"))
		return
	}
	grant := r.PostForm.Get("grant_type")

	var resp *oauth2.TokenResponse
	s.withTxResponding(w, r, func(tx core.Tx) error {
		p, err := authenticate(r.Context(), r, tx, FilterConfig{AllowPublic: true, AllowPrivate: true})
		if err != nil {
			RecordGrantFailure(grant, oauth2.AsError(err).Code())
			return err
		}
		resp, err = s.Flow.Token(r.Context(), tx, p, r.PostForm)
		if err != nil {
			RecordGrantFailure(grant, oauth2.AsError(err).Code())
			logger.From(r.Context()).Warn("grant rejected", logger.GrantType(grant), logger.Err(err))
			return err
		}
		RecordTokenIssued(grant)
		return nil
	}, func() {
		WriteJSON(w, http.StatusOK, resp)
	})
}

// withTxResponding abre la transacción del request, corre fn y commitea antes
// de responder: ningún token toca el wire si el store no lo persistió. La
// frontera transaccional vive acá, no en la lógica de grants.
func (s *Server) withTxResponding(w http.ResponseWriter, r *http.Request, fn func(tx core.Tx) error, ok func()) {
	ctx := r.Context()
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		WriteOAuthError(w, oauth2.ServerError("store unavailable"))
		return
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		WriteOAuthError(w, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		logger.From(ctx).Error("tx commit", logger.Err(err))
		WriteOAuthError(w, oauth2.ServerError("persisting changes"))
		return
	}
	ok()
}

// ─────────────── GET /authorize ───────────────

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var target string
	s.withTxResponding(w, r, func(tx core.Tx) error {
		p, err := authenticate(r.Context(), r, tx, FilterConfig{AllowPublic: true, AllowPrivate: true, AllowQuery: true})
		if err != nil {
			return err
		}
		c := p.Client

		responseType := q.Get("response_type")
		if err := validateResponseType(responseType, c.Type); err != nil {
			return err
		}
		redirect, err := validation.ValidateRedirect(q.Get("redirect_uri"), c.RedirectURIs)
		if err != nil {
			return err
		}
		app, err := tx.GetApplication(r.Context(), c.ApplicationID)
		if err != nil {
			return oauth2.ServerError("application lookup")
		}
		scopes, err := validation.ValidateScope(q.Get("scope"), app.Scopes)
		if err != nil {
			return err
		}

		target, err = s.Flow.Authorize(r.Context(), tx, flow.AuthorizeRequest{
			Client:            c,
			ResponseType:      responseType,
			RedirectURI:       redirect,
			Scopes:            core.SortedScopeNames(scopes),
			State:             q.Get("state"),
			AuthenticatorType: q.Get("authenticator"),
		})
		return err
	}, func() {
		http.Redirect(w, r, target, http.StatusFound)
	})
}

// code ⇔ authorization_grant, token ⇔ implicit. Cualquier otra combinación es
// un response_type no soportado para ese client.
func validateResponseType(rt string, ct core.ClientType) error {
	switch rt {
	case flow.ResponseTypeCode:
		if ct != core.ClientAuthorizationGrant {
			return oauth2.UnsupportedResponseType("client cannot request an authorization code")
		}
	case flow.ResponseTypeToken:
		if ct != core.ClientImplicit {
			return oauth2.UnsupportedResponseType("client cannot request an implicit token")
		}
	default:
		return oauth2.UnsupportedResponseType("unsupported response_type %q", rt)
	}
	return nil
}

// ─────────────── GET /authorize/callback ───────────────

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := make(map[string]string, len(q))
	for k := range q {
		params[k] = q.Get(k)
	}

	var target string
	s.withTxResponding(w, r, func(tx core.Tx) (err error) {
		target, err = s.Flow.Callback(r.Context(), tx, q.Get("state"), params)
		return err
	}, func() {
		http.Redirect(w, r, target, http.StatusFound)
	})
}

// ─────────────── POST /oauth2/revoke ───────────────

// Revocación estilo RFC7009: el dueño del token lo baja junto con su par.
// Token desconocido ⇒ 200 igual, no filtramos existencia.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		WriteOAuthError(w, oauth2.InvalidRequest("malformed form body"))
		return
	}
	raw := r.PostForm.Get("token")
	if raw == "" {
		WriteOAuthError(w, oauth2.InvalidRequest("token is required"))
		return
	}

	s.withTxResponding(w, r, func(tx core.Tx) error {
		// un bearer puede bajar su propio par; un client, cualquiera de los suyos
		p, err := authenticate(r.Context(), r, tx, FilterConfig{AllowPublic: true, AllowPrivate: true, AllowBearer: true})
		if err != nil {
			return err
		}
		tok, err := tx.GetTokenByHash(r.Context(), "", token.SHA256Base64URL(raw))
		if err == core.ErrNotFound {
			return nil
		}
		if err != nil {
			return oauth2.ServerError("token lookup")
		}
		if tok.ClientID != p.Client.ID {
			// Mismo contrato que unknown: 200 sin tocar nada ajeno.
			return nil
		}
		if tok.PairedTokenID != nil {
			if err := tx.DeleteToken(r.Context(), *tok.PairedTokenID); err != nil && err != core.ErrNotFound {
				return oauth2.ServerError("revoking paired token")
			}
		}
		if err := tx.DeleteToken(r.Context(), tok.ID); err != nil && err != core.ErrNotFound {
			return oauth2.ServerError("revoking token")
		}
		return nil
	}, func() {
		WriteJSON(w, http.StatusOK, map[string]any{})
	})
}

// ─────────────── POST /oauth2/introspect ───────────────

type introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
}

// Introspección estilo RFC7662, solo para clients confidenciales: un client
// público no puede interrogar tokens.
func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		WriteOAuthError(w, oauth2.InvalidRequest("malformed form body"))
		return
	}
	raw := r.PostForm.Get("token")
	if raw == "" {
		WriteOAuthError(w, oauth2.InvalidRequest("token is required"))
		return
	}

	var resp introspection
	s.withTxResponding(w, r, func(tx core.Tx) error {
		if _, err := authenticate(r.Context(), r, tx, FilterConfig{AllowPrivate: true}); err != nil {
			return err
		}
		tok, err := tx.GetTokenByHash(r.Context(), "", token.SHA256Base64URL(raw))
		if err == core.ErrNotFound {
			return nil
		}
		if err != nil {
			return oauth2.ServerError("token lookup")
		}
		if tok.Expired(core.SystemClock()) {
			return nil
		}
		resp = introspection{
			Active:    true,
			Scope:     joinScopes(tok.Scopes),
			ClientID:  tok.ClientID,
			TokenType: string(tok.Type),
			Exp:       tok.ExpiresAt.Unix(),
		}
		return nil
	}, func() {
		WriteJSON(w, http.StatusOK, resp)
	})
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ─────────────── salud ───────────────

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
