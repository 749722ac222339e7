package provider

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmatchedPolicy decides what Resolve does with a URL that no profile prefix
// matches. This is an explicit configuration choice, never an implicit
// default: reject fails the request, allow proceeds with an unauthenticated,
// unthrottled fallback profile.
type UnmatchedPolicy string

const (
	UnmatchedReject UnmatchedPolicy = "reject"
	UnmatchedAllow  UnmatchedPolicy = "allow"
)

// Registry is the immutable mapping from URL prefixes to provider profiles.
// It is loaded once at startup; Resolve is deterministic and side-effect free.
type Registry struct {
	profiles []*Profile
	policy   UnmatchedPolicy
	fallback *Profile
}

// registryFile is the on-disk shape of the provider settings document.
type registryFile struct {
	UnmatchedURLPolicy string                 `yaml:"unmatched_url_policy"`
	Providers          map[string]profileSpec `yaml:"providers"`
}

type profileSpec struct {
	Username             SecretRef      `yaml:"username"`
	Password             SecretRef      `yaml:"password"`
	AuthenticationType   string         `yaml:"authentication_type"`
	MaxParallelDownloads *int           `yaml:"max_parallel_downloads"`
	TokenURL             string         `yaml:"token_url"`
	ClientID             string         `yaml:"client_id"`
	ClientSecret         SecretRef      `yaml:"client_secret"`
	Scope                []string       `yaml:"scope"`
	InvalidStatusCodes   map[int]string `yaml:"invalid_status_codes"`
}

// LoadRegistry reads and validates the provider settings document at path.
// Any validation or credential-resolution failure aborts the whole load; a
// partially initialized registry is never returned.
func LoadRegistry(path string, resolver *CredentialResolver) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("failed to read %s", path), Err: err}
	}

	return ParseRegistry(data, resolver)
}

// ParseRegistry builds a registry from the raw settings document.
func ParseRegistry(data []byte, resolver *CredentialResolver) (*Registry, error) {
	var file registryFile
	// yaml.v3 rejects duplicate mapping keys, the first line of defense for
	// the no-two-profiles-share-a-prefix invariant.
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &ConfigurationError{Reason: "failed to parse provider settings", Err: err}
	}

	policy := UnmatchedReject

	switch file.UnmatchedURLPolicy {
	case "", string(UnmatchedReject):
	case string(UnmatchedAllow):
		policy = UnmatchedAllow
	default:
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("unmatched_url_policy must be %q or %q, got %q",
				UnmatchedReject, UnmatchedAllow, file.UnmatchedURLPolicy),
		}
	}

	if len(file.Providers) == 0 {
		return nil, &ConfigurationError{Reason: "no providers configured"}
	}

	profiles := make([]*Profile, 0, len(file.Providers))
	seen := make(map[string]string, len(file.Providers))

	for prefix, spec := range file.Providers {
		profile, err := buildProfile(prefix, spec, resolver)
		if err != nil {
			return nil, err
		}

		// yaml.v3 rejects literally duplicated keys, but prefixes that only
		// differ by a trailing slash normalize to the same match and must be
		// caught here.
		if other, ok := seen[profile.Match]; ok {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("provider prefixes %q and %q are ambiguous, both match %q",
					other, prefix, profile.Match),
			}
		}

		seen[profile.Match] = prefix
		profiles = append(profiles, profile)
	}

	// Longest prefix first, so Resolve can return the first match.
	sort.Slice(profiles, func(i, j int) bool {
		if len(profiles[i].Match) != len(profiles[j].Match) {
			return len(profiles[i].Match) > len(profiles[j].Match)
		}

		return profiles[i].Match < profiles[j].Match
	})

	return &Registry{
		profiles: profiles,
		policy:   policy,
		fallback: &Profile{Auth: AuthNone},
	}, nil
}

func buildProfile(prefix string, spec profileSpec, resolver *CredentialResolver) (*Profile, error) {
	u, err := url.Parse(prefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("provider prefix %q is not a scheme://host[/path] URL", prefix),
			Err:    err,
		}
	}

	profile := &Profile{
		Match:            strings.TrimSuffix(prefix, "/"),
		MaxParallel:      1,
		SoftFailureCodes: spec.InvalidStatusCodes,
	}

	if spec.MaxParallelDownloads != nil {
		if *spec.MaxParallelDownloads < 0 {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("provider %q: max_parallel_downloads must be >= 0", prefix),
			}
		}

		profile.MaxParallel = *spec.MaxParallelDownloads
	}

	if profile.Auth, err = authType(prefix, spec); err != nil {
		return nil, err
	}

	// Credentials resolve eagerly, so a missing environment variable
	// surfaces here instead of mid-transfer.
	switch profile.Auth {
	case AuthBasic:
		if spec.Username.IsZero() {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("provider %q: basic authentication requires a username", prefix),
			}
		}

		if profile.Username, err = resolveCredential(prefix, "username", spec.Username, resolver); err != nil {
			return nil, err
		}

		if profile.Password, err = resolveCredential(prefix, "password", spec.Password, resolver); err != nil {
			return nil, err
		}
	case AuthOAuth2ClientCredentials:
		if spec.TokenURL == "" || spec.ClientID == "" {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("provider %q: oauth2_client_credentials requires token_url and client_id", prefix),
			}
		}

		profile.TokenURL = spec.TokenURL
		profile.ClientID = spec.ClientID
		profile.Scopes = spec.Scope

		if profile.ClientSecret, err = resolveCredential(prefix, "client_secret", spec.ClientSecret, resolver); err != nil {
			return nil, err
		}
	}

	return profile, nil
}

func authType(prefix string, spec profileSpec) (AuthType, error) {
	switch spec.AuthenticationType {
	case string(AuthNone), string(AuthBasic), string(AuthOAuth2ClientCredentials):
		return AuthType(spec.AuthenticationType), nil
	case "":
		// Providers that configure a username without naming a strategy
		// get basic auth, everything else is anonymous.
		if !spec.Username.IsZero() {
			return AuthBasic, nil
		}

		return AuthNone, nil
	}

	return "", &ConfigurationError{
		Reason: fmt.Sprintf("provider %q: unknown authentication_type %q", prefix, spec.AuthenticationType),
	}
}

func resolveCredential(prefix, field string, ref SecretRef, resolver *CredentialResolver) (string, error) {
	value, err := resolver.Resolve(ref)
	if err != nil {
		return "", &ConfigurationError{
			Reason: fmt.Sprintf("provider %q: failed to resolve %s", prefix, field),
			Err:    err,
		}
	}

	return value, nil
}

// Resolve returns the profile whose match prefix is the longest prefix of the
// given URL. Unmatched URLs follow the configured policy: an
// UnknownProviderError under reject, the no-auth unlimited fallback profile
// under allow.
func (r *Registry) Resolve(rawURL string) (*Profile, error) {
	for _, profile := range r.profiles {
		if strings.HasPrefix(rawURL, profile.Match) {
			return profile, nil
		}
	}

	if r.policy == UnmatchedAllow {
		return r.fallback, nil
	}

	return nil, &UnknownProviderError{URL: rawURL}
}

// Profiles returns the loaded profiles, longest prefix first.
func (r *Registry) Profiles() []*Profile {
	return r.profiles
}

// Policy returns the configured unmatched-URL policy.
func (r *Registry) Policy() UnmatchedPolicy {
	return r.policy
}
