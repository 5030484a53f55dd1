package creds_test

import (
	"testing"

	"github.com/arXiv/arxiv-compiler/compiler/creds"
	"github.com/stretchr/testify/require"
)

func TestEnabled(t *testing.T) {
	require.False(t, creds.NewProvider(creds.Config{}).Enabled())

	require.True(t, creds.NewProvider(creds.Config{
		SecretsManager: creds.SecretsManagerConfig{SecretID: "registry-creds"},
	}).Enabled())

	require.True(t, creds.NewProvider(creds.Config{
		SSM: creds.SSMConfig{UsernameParam: "/u", PasswordParam: "/p"},
	}).Enabled())
}

func TestResolveFailsWhenUnconfigured(t *testing.T) {
	_, err := creds.NewProvider(creds.Config{}).Resolve(t.Context())
	require.Error(t, err)
}
