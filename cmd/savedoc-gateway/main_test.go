// ABOUTME: Tests for the savedoc-gateway CLI commands and log handler
// ABOUTME: Runs the cobra tree against temp config files and an httptest server

package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/savedoc-gateway/internal/auth"
	"github.com/2389/savedoc-gateway/internal/config"
	"github.com/2389/savedoc-gateway/internal/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "init", "token", "destroy", "health"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, config.DefaultPath(), configFlag.DefValue)
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "conf", "gateway.yaml")
	dataDir := filepath.Join(dir, "data")

	out, err := execute(t, "init", "--config", cfgPath, "--data-dir", dataDir, "--http-addr", "127.0.0.1:9999")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+cfgPath)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.HTTPAddr)
	assert.Equal(t, config.BackendFile, cfg.Storage.Backend)
	assert.Equal(t, dataDir, cfg.Storage.Dir)
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.Equal(t, config.DefaultPingInterval, cfg.Sessions.PingInterval)
	assert.DirExists(t, dataDir)

	info, err := os.Stat(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestInit_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server: {}\n"), 0o600))

	_, err := execute(t, "init", "--config", cfgPath, "--data-dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "server: {}\n", string(data))

	_, err = execute(t, "init", "--config", cfgPath, "--data-dir", dir, "--force")
	require.NoError(t, err)
	_, err = config.Load(cfgPath)
	require.NoError(t, err)
}

func TestInit_SQLite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gateway.yaml")

	_, err := execute(t, "init", "--config", cfgPath, "--data-dir", dir, "--backend", "sqlite")
	require.NoError(t, err)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, config.BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, filepath.Join(dir, "saved-docs.db"), cfg.Storage.SQLitePath)

	_, err = execute(t, "init", "--config", filepath.Join(dir, "other.yaml"), "--backend", "redis")
	assert.ErrorContains(t, err, "unknown backend")
}

func TestToken(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gateway.yaml")

	_, err := execute(t, "init", "--config", cfgPath, "--data-dir", dir, "--auth")
	require.NoError(t, err)

	out, err := execute(t, "token", "--config", cfgPath, "--subject", "alice", "--ttl", "1h")
	require.NoError(t, err)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), config.MinJWTSecretLength)

	id, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Subject)
	assert.False(t, id.ExpiresAt.IsZero())
}

func TestToken_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gateway.yaml")

	_, err := execute(t, "init", "--config", cfgPath, "--data-dir", dir)
	require.NoError(t, err)

	_, err = execute(t, "token", "--config", cfgPath, "--subject", "alice")
	assert.ErrorContains(t, err, "jwt_secret is not set")

	_, err = execute(t, "token", "--config", cfgPath)
	assert.ErrorContains(t, err, "subject")
}

func TestDestroy(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gateway.yaml")

	_, err := execute(t, "init", "--config", cfgPath, "--data-dir", dir)
	require.NoError(t, err)

	backend := store.NewFileBackend(dir, nil)
	unit := &store.Unit{Namespaces: []store.Namespace{{ID: "n1", Name: "Reports"}}}
	require.NoError(t, backend.Save(t.Context(), "conn-1", unit))
	require.FileExists(t, backend.Path("conn-1"))

	out, err := execute(t, "destroy", "--config", cfgPath, "conn-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted saved documents for conn-1")
	assert.NoFileExists(t, backend.Path("conn-1"))

	out, err = execute(t, "destroy", "--config", cfgPath, "conn-1")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved documents for conn-1")
}

func TestDestroy_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gateway.yaml")

	_, err := execute(t, "destroy", "--config", cfgPath)
	assert.Error(t, err, "connection id argument is required")

	_, err = execute(t, "destroy", "--config", cfgPath, "../escape")
	assert.ErrorIs(t, err, store.ErrInvalidConnectionID)

	_, err = execute(t, "destroy", "--config", cfgPath, "conn-1")
	assert.ErrorContains(t, err, "loading config")
}

func TestRunHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			fmt.Fprint(w, "OK")
		case "/health/ready":
			fmt.Fprint(w, "ready (0 connections, 0 listeners, active \"\")")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, runHealth(t.Context(), srv.URL, &out))
	assert.Contains(t, out.String(), "/health: OK")
	assert.Contains(t, out.String(), "/health/ready: ready")
}

func TestRunHealth_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := runHealth(t.Context(), srv.URL, &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "status 503")
}

func TestColorHandler(t *testing.T) {
	var out bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &out)

	logger.With("component", "gateway").WithGroup("rpc").Debug("dispatched", "method", "get-docs")
	line := out.String()
	assert.Contains(t, line, "DBG dispatched")
	assert.Contains(t, line, "component=gateway")
	assert.Contains(t, line, "rpc.method=get-docs")

	out.Reset()
	quiet := setupLogger(config.LoggingConfig{Level: "warn"}, &out)
	quiet.Info("hidden")
	assert.Empty(t, out.String())
	assert.False(t, quiet.Enabled(t.Context(), slog.LevelInfo))
}

func TestSetupLogger_JSON(t *testing.T) {
	var out bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "json"}, &out)
	logger.Info("started", "http_addr", "127.0.0.1:7391")

	assert.Contains(t, out.String(), `"msg":"started"`)
	assert.Contains(t, out.String(), `"http_addr":"127.0.0.1:7391"`)
}
