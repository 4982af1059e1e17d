package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPrintConfig(t *testing.T) {
	t.Setenv("NARRATIVEBET_SUSPICION_PASSPHRASE", "hunter2")
	var out bytes.Buffer
	require.Equal(t, 0, run([]string{"-config", "", "-mode", "server", "-print-config"}, &out))

	var cfg struct {
		Mode      string
		Suspicion struct{ Passphrase string }
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &cfg))
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "***", cfg.Suspicion.Passphrase)
	assert.NotContains(t, out.String(), "hunter2")
}

func TestRunRejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 2, run([]string{"-no-such-flag"}, &out))
	assert.Equal(t, 1, run([]string{"-config", "/nonexistent/narrativebet.toml"}, &out))

	t.Setenv("NARRATIVEBET_SUSPICION_PASSPHRASE", "")
	assert.Equal(t, 1, run([]string{"-config", ""}, &out), "missing passphrase fails validation")

	t.Setenv("NARRATIVEBET_SUSPICION_PASSPHRASE", "x")
	assert.Equal(t, 1, run([]string{"-config", "", "-mode", "trade"}, &out))
}
