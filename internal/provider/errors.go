package provider

import "fmt"

// ConfigurationError represents a fatal error in the provider settings
// document: unparsable YAML, ambiguous prefixes, missing required fields or
// unresolved credentials. It always aborts the registry load.
type ConfigurationError struct {
	Reason string // Human-readable explanation of what is wrong with the configuration
	Err    error  // Underlying error, if any
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid provider configuration: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// UnknownProviderError is returned by Registry.Resolve when no profile prefix
// matches the requested URL and the unmatched-URL policy is set to reject.
type UnknownProviderError struct {
	URL string // The URL that matched no configured provider prefix
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("no provider profile matches %q", e.URL)
}

// MissingCredentialError represents a symbolic credential reference that could
// not be resolved from the process environment at load time.
type MissingCredentialError struct {
	EnvVar string // Name of the environment variable that is not set
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("credential environment variable %q is not set", e.EnvVar)
}
