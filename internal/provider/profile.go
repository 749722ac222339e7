package provider

// AuthType identifies the authentication strategy of a provider. The set is
// closed: new strategies require a new constant plus an authenticator, not
// ad-hoc branching.
type AuthType string

const (
	AuthNone                    AuthType = "none"
	AuthBasic                   AuthType = "basic"
	AuthOAuth2ClientCredentials AuthType = "oauth2_client_credentials"
)

// Profile is the resolved, immutable configuration for one remote data
// provider. All credential material has already been resolved by the
// CredentialResolver; nothing reads the environment after load.
type Profile struct {
	// Match is the URL prefix (scheme + host, optional path segment) that
	// selects this profile. Longest prefix wins on overlap.
	Match string

	Auth AuthType

	// Basic credentials. For FTP providers these are the login credentials.
	Username string
	Password string

	// OAuth2 client-credentials settings.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// MaxParallel caps simultaneous transfers against this provider.
	// Zero or negative means unlimited.
	MaxParallel int

	// SoftFailureCodes maps transport status codes to the human-readable
	// reason the provider gives for a transient condition, e.g.
	// 202 -> "dataset offline, awaiting staging".
	SoftFailureCodes map[int]string
}

// SoftFailureReason reports whether the given status code denotes a
// transient, retryable condition for this provider.
func (p *Profile) SoftFailureReason(code int) (string, bool) {
	reason, ok := p.SoftFailureCodes[code]

	return reason, ok
}

// Unlimited reports whether the profile has no concurrency ceiling.
func (p *Profile) Unlimited() bool {
	return p.MaxParallel <= 0
}
