// Package main provides the CLI entry point for the Cloudflyer tunnel provider.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cloudflyer-project/cloudflyer-go/internal/config"
	"github.com/cloudflyer-project/cloudflyer-go/internal/health"
	"github.com/cloudflyer-project/cloudflyer-go/internal/logging"
	"github.com/cloudflyer-project/cloudflyer-go/internal/metrics"
	"github.com/cloudflyer-project/cloudflyer-go/internal/provider"
	"github.com/cloudflyer-project/cloudflyer-go/internal/proxy"
	"github.com/cloudflyer-project/cloudflyer-go/internal/solver"
)

var (
	// Version and Commit are set at build time.
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cloudflyer",
		Short: "Cloudflyer - Tunnel provider for the Cloudflyer network",
		Long: `Cloudflyer keeps a persistent connection to a relay server and serves
TCP and UDP channels opened through it, so the solver service can route
browser traffic out through this machine.

It can also file Cloudflare and Turnstile challenge tasks with the solver
service directly via the solve command.`,
		Version: fmt.Sprintf("%s (commit %s)", Version, Commit),
	}

	// Add subcommands
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(solveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var (
		configPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template",
		Long:  "Write a commented default configuration file to fill in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}
			// The file will hold the provider token, keep it private.
			if err := os.WriteFile(configPath, []byte(config.Template), 0o600); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Wrote configuration template to %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func runCmd() *cobra.Command {
	var (
		configPath     string
		relayURL       string
		token          string
		connectorToken string
		debug          bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tunnel provider",
		Long:  "Connect to the relay server and serve channels until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if relayURL != "" {
				cfg.Provider.URL = relayURL
			}
			if token != "" {
				cfg.Provider.Token = token
			}
			if debug {
				cfg.Logging.Level = "debug"
			}
			if cfg.Provider.URL == "" {
				return fmt.Errorf("relay URL is required (set provider.url or --url)")
			}
			if cfg.Provider.Token == "" {
				return fmt.Errorf("provider token is required (set provider.token or --token)")
			}

			logger := buildLogger(cfg)

			var m *metrics.Metrics
			if cfg.Metrics.Enabled {
				m = metrics.Default()
			}

			var proxyCfg *proxy.Config
			if cfg.Provider.Proxy.Address != "" {
				proxyCfg = &proxy.Config{
					Address:  cfg.Provider.Proxy.Address,
					Type:     cfg.Provider.Proxy.Type,
					Username: cfg.Provider.Proxy.Username,
					Password: cfg.Provider.Proxy.Password,
				}
			}

			p, err := provider.New(provider.Options{
				URL:                  cfg.Provider.URL,
				Token:                cfg.Provider.Token,
				ReconnectInterval:    cfg.Provider.ReconnectInterval,
				MaxReconnectAttempts: cfg.Provider.MaxReconnectAttempts,
				ConnectTimeout:       cfg.Provider.ConnectTimeout,
				Proxy:                proxyCfg,
				Logger:               logger,
				Metrics:              m,
			})
			if err != nil {
				return fmt.Errorf("failed to create provider: %w", err)
			}

			fmt.Printf("Starting Cloudflyer provider...\n")
			fmt.Printf("Instance ID: %s\n", p.InstanceID())
			if proxyCfg != nil {
				fmt.Printf("Upstream proxy: %s\n", proxyCfg.Address)
			}

			var ops *health.Server
			if cfg.Metrics.Enabled {
				opsCfg := health.DefaultServerConfig()
				opsCfg.Address = cfg.Metrics.Address
				ops = health.NewServer(opsCfg, providerStats{p})
				if err := ops.Start(); err != nil {
					return fmt.Errorf("failed to start metrics endpoint: %w", err)
				}
				fmt.Printf("Metrics: http://%s/metrics\n", ops.Address())
			}

			if err := p.Connect(context.Background()); err != nil {
				// A rejected token will not get better by retrying.
				if errors.Is(err, provider.ErrAuthFailed) {
					if ops != nil {
						ops.Stop()
					}
					p.Close()
					return err
				}
				fmt.Printf("Initial connect failed (%v), retrying in background...\n", err)
			}

			if connectorToken != "" {
				if err := p.AddConnectorToken(connectorToken); err != nil {
					fmt.Printf("Connector token registration failed: %v\n", err)
				}
			}

			// Wait for shutdown signal
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			sig := <-sigCh
			fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

			sent, received := p.BytesSent(), p.BytesReceived()
			if ops != nil {
				ops.Stop()
			}
			if err := p.Close(); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}

			fmt.Printf("Transferred %s up, %s down.\n", humanize.Bytes(sent), humanize.Bytes(received))
			fmt.Println("Provider stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&relayURL, "url", "", "Relay server URL (overrides config)")
	cmd.Flags().StringVar(&token, "token", "", "Provider token (overrides config)")
	cmd.Flags().StringVar(&connectorToken, "connector-token", "", "Connector token to register after connecting")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func solveCmd() *cobra.Command {
	var (
		configPath string
		targetURL  string
		sitekey    string
		apiKey     string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve a challenge for a URL",
		Long:  "File a challenge task with the solver service and print the solution as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if apiKey != "" {
				cfg.Solver.APIKey = apiKey
			}
			if debug {
				cfg.Logging.Level = "debug"
			}
			if cfg.Solver.APIKey == "" {
				return fmt.Errorf("solver API key is required (set solver.api_key or --api-key)")
			}

			opts := []solver.Option{
				solver.WithAPIBase(cfg.Solver.APIBase),
				solver.WithTimeout(cfg.Solver.Timeout),
				solver.WithLogger(buildLogger(cfg)),
			}
			if cfg.Solver.UsePolling {
				opts = append(opts, solver.WithPollingMode(cfg.Solver.PollingInterval))
			}
			if raw := proxyURLString(cfg.Provider.Proxy); raw != "" {
				opts = append(opts, solver.WithProxy(raw))
			}

			client := solver.New(cfg.Solver.APIKey, opts...)
			defer client.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if sitekey != "" {
				token, err := client.SolveTurnstileContext(ctx, targetURL, sitekey)
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"token": token})
			}

			result, err := client.SolveCloudflareContext(ctx, targetURL)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"cookies":   result.Cookies,
				"userAgent": result.UserAgent,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&targetURL, "url", "", "Target URL (required)")
	cmd.Flags().StringVar(&sitekey, "sitekey", "", "Turnstile sitekey (solves Turnstile instead of Cloudflare)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Solver API key (overrides config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.MarkFlagRequired("url")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cloudflyer %s (commit %s)\n", Version, Commit)
		},
	}
}

// loadConfig loads the config file, falling back to defaults when the
// default path does not exist. An explicitly given path must load.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

func buildLogger(cfg *config.Config) *slog.Logger {
	if cfg.Logging.Silent {
		return logging.NopLogger()
	}
	return logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
}

// proxyURLString renders the proxy section as a URL for the solver client.
func proxyURLString(p config.ProxyConfig) string {
	if p.Address == "" {
		return ""
	}
	scheme := p.Type
	if scheme == "" {
		scheme = "socks5"
	}
	u := url.URL{Scheme: scheme, Host: p.Address}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// providerStats adapts the provider to the health server's StatsProvider.
type providerStats struct {
	p *provider.Provider
}

func (s providerStats) IsRunning() bool { return !s.p.IsClosed() }
func (s providerStats) IsReady() bool   { return s.p.IsConnected() }

func (s providerStats) Stats() health.Stats {
	return health.Stats{
		State:           s.p.State().String(),
		InstanceID:      s.p.InstanceID().String(),
		Partners:        s.p.PartnersCount(),
		ChannelsOpen:    s.p.ChannelCount(),
		ConnectorTokens: len(s.p.ConnectorTokens()),
		BytesSent:       s.p.BytesSent(),
		BytesReceived:   s.p.BytesReceived(),
	}
}
