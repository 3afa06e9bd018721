package main

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/desertwitch/lmirror/internal/lmirrorerr"
)

// Expectation: flags not given on the command line fall back to defaults.
func Test_Unit_NewApp_Unset_Defaults_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	var stdout, stderr bytes.Buffer

	a, rest, err := newApp([]string{"init", "myset", "content"}, fs, &stdout, &stderr)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Equal(t, []string{"init", "myset", "content"}, rest)

	require.Equal(t, ".", a.cfg.BaseDir)
	require.Equal(t, "info", a.cfg.LogLevel)
	require.Equal(t, ":8337", a.cfg.ListenAddr)
	require.False(t, a.cfg.JSON)
}

// Expectation: flags given directly on the command line are honored.
func Test_Unit_NewApp_Flags_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	var stdout, stderr bytes.Buffer

	a, rest, err := newApp([]string{
		"--base-dir=/data",
		"--log-level=debug",
		"--json",
		"serve",
	}, fs, &stdout, &stderr)
	require.NoError(t, err)
	require.Equal(t, []string{"serve"}, rest)
	require.Equal(t, "/data", a.cfg.BaseDir)
	require.Equal(t, "debug", a.cfg.LogLevel)
	require.True(t, a.cfg.JSON)
}

// Expectation: a --config YAML file is merged underneath explicit flags.
func Test_Unit_NewApp_ConfigFile_FlagsWin_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cfg.yaml", []byte("base_dir: /from-yaml\nlog_level: warn\n"), 0o644))

	var stdout, stderr bytes.Buffer

	a, _, err := newApp([]string{
		"--config=/cfg.yaml",
		"--log-level=debug",
		"init",
	}, fs, &stdout, &stderr)
	require.NoError(t, err)
	require.Equal(t, "/from-yaml", a.cfg.BaseDir)
	require.Equal(t, "debug", a.cfg.LogLevel)
}

// Expectation: an unrecognized log level fails validation at config time.
func Test_Unit_NewApp_BadLogLevel_Fails(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	var stdout, stderr bytes.Buffer

	_, _, err := newApp([]string{"--log-level=noisy", "init"}, fs, &stdout, &stderr)
	require.Error(t, err)
}

func Test_Unit_ExitCodeFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, exitCodeSuccess, exitCodeFor(nil))
	require.Equal(t, exitCodeConfigFailure, exitCodeFor(lmirrorerr.ErrNotFound))
	require.Equal(t, exitCodeConfigFailure, exitCodeFor(lmirrorerr.ErrWrongState))
	require.Equal(t, exitCodeFailure, exitCodeFor(lmirrorerr.ErrContentMismatch))
}

func Test_Unit_SplitServerURL(t *testing.T) {
	t.Parallel()

	serverURL, name, err := splitServerURL("http://host:8337/myset")
	require.NoError(t, err)
	require.Equal(t, "http://host:8337", serverURL)
	require.Equal(t, "myset", name)

	_, _, err = splitServerURL("http://host:8337/")
	require.Error(t, err)
}

func Test_Unit_IsHTTPURL(t *testing.T) {
	t.Parallel()

	require.True(t, isHTTPURL("http://host/set"))
	require.True(t, isHTTPURL("https://host/set"))
	require.False(t, isHTTPURL("/local/path"))
}
