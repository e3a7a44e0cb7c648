package oauth2

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind clasifica los errores del protocolo (RFC 6749 + extensiones locales).
// Los validadores y handlers devuelven *Error; recién en el boundary HTTP se
// convierte al body {"error","error_description"} con su status.
type Kind int

const (
	KindInvalidRequest Kind = iota
	KindInvalidClient
	KindInvalidGrant
	KindInvalidScope
	KindUnauthorizedClient
	KindUnsupportedGrantType
	KindUnsupportedResponseType
	KindAccessDenied
	KindThirdParty
	KindMisconfigured
	KindServer
)

type Error struct {
	Kind        Kind
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code()
	}
	return e.Code() + ": " + e.Description
}

// Code es el snake_case del wire format.
func (e *Error) Code() string {
	switch e.Kind {
	case KindInvalidRequest:
		return "invalid_request"
	case KindInvalidClient:
		return "invalid_client"
	case KindInvalidGrant:
		return "invalid_grant"
	case KindInvalidScope:
		return "invalid_scope"
	case KindUnauthorizedClient:
		return "unauthorized_client"
	case KindUnsupportedGrantType:
		return "unsupported_grant_type"
	case KindUnsupportedResponseType:
		return "unsupported_response_type"
	case KindAccessDenied:
		return "access_denied"
	case KindThirdParty:
		return "third_party_error"
	case KindMisconfigured:
		return "misconfigured_authenticator"
	default:
		return "server_error"
	}
}

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidClient:
		return http.StatusUnauthorized
	case KindAccessDenied:
		return http.StatusForbidden
	case KindThirdParty:
		return http.StatusBadGateway
	case KindMisconfigured, KindServer:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func newErr(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Description: fmt.Sprintf(format, args...)}
}

func InvalidRequest(format string, args ...any) *Error {
	return newErr(KindInvalidRequest, format, args...)
}
func InvalidClient(format string, args ...any) *Error {
	return newErr(KindInvalidClient, format, args...)
}
func InvalidGrant(format string, args ...any) *Error {
	return newErr(KindInvalidGrant, format, args...)
}
func InvalidScope(format string, args ...any) *Error {
	return newErr(KindInvalidScope, format, args...)
}
func UnauthorizedClient(format string, args ...any) *Error {
	return newErr(KindUnauthorizedClient, format, args...)
}
func UnsupportedGrantType(format string, args ...any) *Error {
	return newErr(KindUnsupportedGrantType, format, args...)
}
func UnsupportedResponseType(format string, args ...any) *Error {
	return newErr(KindUnsupportedResponseType, format, args...)
}
func AccessDenied(format string, args ...any) *Error {
	return newErr(KindAccessDenied, format, args...)
}
func ThirdParty(format string, args ...any) *Error {
	return newErr(KindThirdParty, format, args...)
}
func Misconfigured(format string, args ...any) *Error {
	return newErr(KindMisconfigured, format, args...)
}
func ServerError(format string, args ...any) *Error {
	return newErr(KindServer, format, args...)
}

// AsError normaliza cualquier error al taxón conocido. Errores desconocidos se
// degradan a server_error sin filtrar detalle interno.
func AsError(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return &Error{Kind: KindServer, Description: "internal error"}
}

// IsKind es azúcar para tests y ramas de control.
func IsKind(err error, k Kind) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Kind == k
}
