package oauth2

// TokenResponse es la forma uniforme de respuesta de los cuatro grants
// (RFC6749 §5.1). Scope se omite cuando el token no lleva ninguno; State se
// hace eco solo si el client lo mandó.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	State        string `json:"state,omitempty"`
}
