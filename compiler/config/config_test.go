package config_test

import (
	"testing"

	"github.com/arXiv/arxiv-compiler/compiler/config"
	flags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaultsAndNamespacing(t *testing.T) {
	var cfg config.Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.ParseArgs([]string{
		"--store-bucket", "arxiv-compiler-artifacts",
		"--runner-garden-address", "10.0.0.5:7777",
	})
	require.NoError(t, err)

	require.Equal(t, "arxiv-compiler-artifacts", cfg.Store.Bucket)
	require.Equal(t, "10.0.0.5:7777", cfg.Runner.GardenAddress)
	require.Equal(t, 4, cfg.Queue.Concurrency)
	require.Equal(t, "pdf", cfg.DefaultOutputFormat)
	require.True(t, cfg.Auth.ChecksumVerification)
}
