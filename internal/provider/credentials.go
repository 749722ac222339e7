package provider

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SecretRef is a credential value as written in the provider settings
// document: either a literal string or a `!ENV VARNAME` environment-variable
// indirection. It is resolved once, eagerly, during the registry load.
type SecretRef struct {
	Literal string
	EnvVar  string
}

// UnmarshalYAML decodes a scalar node, honoring the custom !ENV tag.
func (s *SecretRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("credential value must be a scalar, got %s", value.Tag)
	}

	switch value.Tag {
	case "!ENV":
		s.EnvVar = value.Value
	case "!!str", "!!null":
		s.Literal = value.Value
	default:
		return fmt.Errorf("unsupported credential tag %q", value.Tag)
	}

	return nil
}

// IsZero reports whether the reference carries neither a literal nor an
// environment indirection.
func (s SecretRef) IsZero() bool {
	return s.Literal == "" && s.EnvVar == ""
}

// CredentialResolver resolves symbolic credential references to concrete
// secrets. The lookup function is injectable so tests don't have to mutate the
// process environment.
type CredentialResolver struct {
	lookup func(string) (string, bool)
}

// NewCredentialResolver returns a resolver backed by the process environment.
func NewCredentialResolver() *CredentialResolver {
	return &CredentialResolver{lookup: os.LookupEnv}
}

// NewCredentialResolverFunc returns a resolver backed by a custom lookup.
func NewCredentialResolverFunc(lookup func(string) (string, bool)) *CredentialResolver {
	return &CredentialResolver{lookup: lookup}
}

// Resolve turns a SecretRef into its secret value. A reference to an unset
// environment variable is a MissingCredentialError; configuration errors must
// surface before any network activity, never at transfer time.
func (r *CredentialResolver) Resolve(ref SecretRef) (string, error) {
	if ref.EnvVar == "" {
		return ref.Literal, nil
	}

	value, ok := r.lookup(ref.EnvVar)
	if !ok {
		return "", &MissingCredentialError{EnvVar: ref.EnvVar}
	}

	return value, nil
}
