package http

import (
	"encoding/json"
	"net/http"

	"github.com/dropDatabas3/o2server/internal/oauth2"
)

// wireError es el body RFC6749 §5.2: exactamente estos dos campos.
type wireError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// WriteOAuthError renderiza cualquier error del dominio como el body uniforme.
// Errores fuera de la taxonomía salen como server_error sin filtrar detalles.
func WriteOAuthError(w http.ResponseWriter, err error) {
	e := oauth2.AsError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(wireError{
		Error:            e.Code(),
		ErrorDescription: e.Description,
	})
}

// WriteJSON: respuesta JSON estándar. Los endpoints que devuelven tokens setean
// no-store para que ningún intermediario los cachee.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
