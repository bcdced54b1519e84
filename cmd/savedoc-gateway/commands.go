// ABOUTME: Maintenance subcommands: init, token, destroy and health
// ABOUTME: Each works from the same config file the server reads

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/savedoc-gateway/internal/auth"
	"github.com/2389/savedoc-gateway/internal/config"
	"github.com/2389/savedoc-gateway/internal/gateway"
	"github.com/2389/savedoc-gateway/internal/store"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	Force    bool
	Auth     bool
	Backend  string
	DataDir  string
	HTTPAddr string
}

func newInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts.ConfigPath, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&opts.Auth, "auth", false, "generate a JWT secret and require tokens on /api")
	cmd.Flags().StringVar(&opts.Backend, "backend", config.BackendFile, "storage backend (file or sqlite)")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", config.DefaultDataDir(), "directory for persisted documents")
	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", config.DefaultHTTPAddr, "HTTP listen address")

	return cmd
}

func runInit(configPath string, opts *InitOptions, out io.Writer) error {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	if _, err := os.Stat(configPath); err == nil && !opts.Force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	if opts.Backend != config.BackendFile && opts.Backend != config.BackendSQLite {
		return fmt.Errorf("unknown backend %q (want file or sqlite)", opts.Backend)
	}

	var secret string
	if opts.Auth {
		var err error
		secret, err = generateSecret()
		if err != nil {
			return err
		}
	}

	var b strings.Builder
	b.WriteString("# savedoc-gateway configuration\n\n")
	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n\n", opts.HTTPAddr)
	b.WriteString("storage:\n")
	fmt.Fprintf(&b, "  backend: %q\n", opts.Backend)
	fmt.Fprintf(&b, "  dir: %q\n", opts.DataDir)
	if opts.Backend == config.BackendSQLite {
		fmt.Fprintf(&b, "  sqlite_path: %q\n", filepath.Join(opts.DataDir, "saved-docs.db"))
	}
	b.WriteString("\n")
	if secret != "" {
		b.WriteString("auth:\n")
		fmt.Fprintf(&b, "  jwt_secret: %q\n\n", secret)
	} else {
		b.WriteString("# auth:\n")
		b.WriteString("#   jwt_secret: \"${SAVEDOC_JWT_SECRET}\"\n\n")
	}
	b.WriteString("sessions:\n")
	fmt.Fprintf(&b, "  write_timeout: %q\n", config.DefaultWriteTimeout.String())
	fmt.Fprintf(&b, "  ping_interval: %q\n\n", config.DefaultPingInterval.String())
	b.WriteString("logging:\n")
	b.WriteString("  level: \"info\"\n")
	b.WriteString("  format: \"text\"\n\n")
	b.WriteString("metrics:\n")
	b.WriteString("  enabled: false\n")
	fmt.Fprintf(&b, "  path: %q\n", config.DefaultMetricsPath)

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green.Fprint(out, "✓ ")
	fmt.Fprintf(out, "Wrote %s\n", configPath)
	gray.Fprintf(out, "  data: %s\n", opts.DataDir)
	if secret != "" {
		gray.Fprintln(out, "  auth: enabled, mint a token with 'savedoc-gateway token --subject NAME'")
	}
	return nil
}

// generateSecret returns a random base64 secret long enough for HS256
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	Subject string
	TTL     time.Duration
}

func newTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set; run 'savedoc-gateway init --auth' or set it in the config")
			}

			token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(opts.Subject, opts.TTL)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "", "token subject (required)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 720*time.Hour, "token lifetime, 0 for no expiry")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func newDestroyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy CONNECTION_ID",
		Short: "Delete a connection's saved documents from storage",
		Long:  "Deletes the persisted unit directly through the configured backend. Run it while the server is stopped, or use DELETE /api/connections/{conn}/file against a running server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDestroy(cmd.Context(), rootOpts.ConfigPath, args[0], cmd.OutOrStdout())
		},
	}
}

func runDestroy(ctx context.Context, configPath, connectionID string, out io.Writer) (err error) {
	if err := store.ValidateConnectionID(connectionID); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	backend, closeBackend, err := gateway.OpenBackend(cfg, setupLogger(cfg.Logging, io.Discard))
	if err != nil {
		return err
	}
	if closeBackend != nil {
		defer func() {
			if cerr := closeBackend(); cerr != nil && err == nil {
				err = fmt.Errorf("closing backend: %w", cerr)
			}
		}()
	}

	existed, err := backend.Delete(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", connectionID, err)
	}

	if existed {
		color.New(color.FgGreen).Fprint(out, "✓ ")
		fmt.Fprintf(out, "Deleted saved documents for %s\n", connectionID)
	} else {
		color.New(color.FgYellow).Fprint(out, "• ")
		fmt.Fprintf(out, "No saved documents for %s\n", connectionID)
	}
	return nil
}

func newHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runHealth(cmd.Context(), "http://"+cfg.Server.HTTPAddr, cmd.OutOrStdout())
		},
	}
}

// runHealth checks liveness then readiness of the server at baseURL
func runHealth(ctx context.Context, baseURL string, out io.Writer) error {
	client := &http.Client{Timeout: 5 * time.Second}

	for _, path := range []string{"/health", "/health/ready"} {
		body, err := getBody(ctx, client, baseURL+path)
		if err != nil {
			color.New(color.FgRed).Fprint(out, "✗ ")
			fmt.Fprintf(out, "%s: %v\n", path, err)
			return fmt.Errorf("health check failed: %w", err)
		}
		color.New(color.FgGreen).Fprint(out, "✓ ")
		fmt.Fprintf(out, "%s: %s\n", path, body)
	}
	return nil
}

func getBody(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	return strings.TrimSpace(string(body)), nil
}
