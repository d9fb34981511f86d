package model

// VerifyUser is the user block of a successful verification response.
type VerifyUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Plan  string `json:"plan"`
}

// VerifyThemes splits the themes a caller may access into the always-free
// baseline catalog and the IDs unlocked by purchased licenses.
type VerifyThemes struct {
	Free     []string `json:"free"`
	Licensed []string `json:"licensed"`
}

// VerifyLicense is the wire form of one license in a verification response.
type VerifyLicense struct {
	ThemeID   string  `json:"themeId"`
	Tier      string  `json:"tier"`
	IsActive  bool    `json:"isActive"`
	ExpiresAt *string `json:"expiresAt"` // RFC 3339, null for perpetual
}

// VerifySuccess is the body returned to MCP clients for a valid credential.
type VerifySuccess struct {
	Valid    bool            `json:"valid"` // always true
	User     VerifyUser      `json:"user"`
	Licenses []VerifyLicense `json:"licenses"`
	Themes   VerifyThemes    `json:"themes"`
}

// VerifyFailure is the body returned for a rejected credential. RetryAfter
// is populated only for rate-limited requests.
type VerifyFailure struct {
	Valid      bool   `json:"valid"` // always false
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// ErrorResponse is the standard envelope for non-verify error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}
