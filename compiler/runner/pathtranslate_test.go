package runner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranslatePath(t *testing.T) {
	bind, err := translatePath("/worker/src/54/abcd", "/worker/src", "/dind/src")
	require.NoError(t, err)
	require.Equal(t, "/dind/src/54/abcd", bind)
}

func TestTranslatePathRejectsOutsideRoot(t *testing.T) {
	_, err := translatePath("/somewhere/else", "/worker/src", "/dind/src")
	require.Error(t, err)
}

func TestTranslatePathSameDirectory(t *testing.T) {
	bind, err := translatePath("/worker/src", "/worker/src", "/dind/src")
	require.NoError(t, err)
	require.Equal(t, "/dind/src", bind)
}
