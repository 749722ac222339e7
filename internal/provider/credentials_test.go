package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/oceanscan/geofetch/internal/provider"
)

func TestSecretRef_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		wantLiteral string
		wantEnvVar  string
		wantErr     bool
	}{
		{"literal", `value: 'plain-secret'`, "plain-secret", "", false},
		{"env indirection", `value: !ENV 'MY_SECRET'`, "", "MY_SECRET", false},
		{"absent", `value:`, "", "", false},
		{"mapping rejected", `value: {a: b}`, "", "", true},
		{"unknown tag rejected", `value: !VAULT 'path'`, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc struct {
				Value provider.SecretRef `yaml:"value"`
			}

			err := yaml.Unmarshal([]byte(tt.doc), &doc)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantLiteral, doc.Value.Literal)
			assert.Equal(t, tt.wantEnvVar, doc.Value.EnvVar)
		})
	}
}

func TestCredentialResolver_Resolve(t *testing.T) {
	resolver := provider.NewCredentialResolverFunc(func(name string) (string, bool) {
		if name == "SET_VAR" {
			return "resolved-value", true
		}

		return "", false
	})

	value, err := resolver.Resolve(provider.SecretRef{Literal: "literal-value"})
	require.NoError(t, err)
	assert.Equal(t, "literal-value", value)

	value, err = resolver.Resolve(provider.SecretRef{EnvVar: "SET_VAR"})
	require.NoError(t, err)
	assert.Equal(t, "resolved-value", value)

	_, err = resolver.Resolve(provider.SecretRef{EnvVar: "UNSET_VAR"})

	var missingErr *provider.MissingCredentialError
	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, "UNSET_VAR", missingErr.EnvVar)
}

func TestSecretRef_IsZero(t *testing.T) {
	assert.True(t, provider.SecretRef{}.IsZero())
	assert.False(t, provider.SecretRef{Literal: "x"}.IsZero())
	assert.False(t, provider.SecretRef{EnvVar: "X"}.IsZero())
}
