package oauth2

// OAuth2 error codes surfaced by the token core. The HTTP layer maps these
// onto the error response body unchanged.
const (
	ErrorInvalidGrant   = "invalid_grant"
	ErrorInvalidScope   = "invalid_scope"
	ErrorInvalidRequest = "invalid_request"
	ErrorNotAllowed     = "not_allowed"
)

// Error is the single typed rejection the core produces: a machine-readable
// code plus a human-readable description. Rejections are terminal for the
// current request and leave no partial state behind.
type Error struct {
	Code        string
	Description string
}

func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}
