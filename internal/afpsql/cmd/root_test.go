package cmd

import (
	"context"
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	viper.Reset()
	code := m.Run()
	os.Exit(code)
}

func TestBuildRootCmdRegistersCanonicalFlags(t *testing.T) {
	defer viper.Reset()

	cmd, err := buildRootCmd(context.Background(), context.Background())
	require.NoError(t, err)

	for _, name := range []string{
		"mode", "session", "dsn-secret", "conninfo-secret", "host", "port",
		"user", "dbname", "password-secret", "inline-max-rows",
		"inline-max-bytes", "statement-timeout-ms", "lock-timeout-ms",
		"log", "max-conns", "close-grace-ms", "debug",
	} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "expected flag %q to be registered", name)
	}
}

func TestBuildRootCmdDefaultsMatchConfigPackage(t *testing.T) {
	defer viper.Reset()

	cmd, err := buildRootCmd(context.Background(), context.Background())
	require.NoError(t, err)

	assert.Equal(t, "default", cmd.Flags().Lookup("session").DefValue)
	assert.Equal(t, "10000", cmd.Flags().Lookup("inline-max-rows").DefValue)
}
