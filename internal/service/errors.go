package service

// Reason classifies why a verification attempt was rejected. Internal
// reasons are finer-grained than what callers ever see: the public mapping
// deliberately collapses everything that could act as an enumeration
// oracle into invalid_credential. Expired and revoked stay distinguishable
// because they carry no secret - the caller already holds the key.
type Reason string

const (
	ReasonMissingHeader Reason = "missing_or_invalid_header"
	ReasonMalformed     Reason = "malformed_credential"
	ReasonNotFound      Reason = "not_found"
	ReasonInvalid       Reason = "invalid_credential"
	ReasonExpired       Reason = "expired"
	ReasonRevoked       Reason = "revoked"
	ReasonRateLimited   Reason = "rate_limited"
)

// Public returns the error code exposed to callers. not_found and
// malformed_credential never leave the service.
func (r Reason) Public() string {
	switch r {
	case ReasonNotFound, ReasonMalformed:
		return string(ReasonInvalid)
	default:
		return string(r)
	}
}

// Message returns the human-readable text for the public error code.
// Expired and revoked keys get actionable messages; every other credential
// failure shares one generic message to avoid aiding enumeration.
func (r Reason) Message() string {
	switch r {
	case ReasonMissingHeader:
		return "Missing or invalid Authorization header"
	case ReasonExpired:
		return "API key has expired"
	case ReasonRevoked:
		return "API key has been revoked"
	case ReasonRateLimited:
		return "Too many requests. Please try again later."
	default:
		return "Invalid or missing API key"
	}
}
