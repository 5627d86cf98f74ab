package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/baecheolhan/sari/pkg/api"
	"github.com/baecheolhan/sari/pkg/config"
	"github.com/baecheolhan/sari/pkg/daemon"
	"github.com/baecheolhan/sari/pkg/log"
	"github.com/baecheolhan/sari/pkg/metrics"
	"github.com/baecheolhan/sari/pkg/registry"
	"github.com/spf13/cobra"
)

// Version information, set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sari",
	Short: "Sari - workspace-local code intelligence daemon",
	Long: `Sari continuously indexes a set of source-code roots, extracts
symbols and call relations, and serves search and navigation over a
loopback HTTP API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sari version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("workspace", "", "Workspace root (defaults to WORKSPACE_ROOT env)")

	cobra.OnInitialize(initLogging)

	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd)
	indexCmd.AddCommand(indexScanCmd, indexRescanCmd)
	registryCmd.AddCommand(registryListCmd)

	searchCmd.Flags().String("repo", "", "scope results to one repo")
	searchCmd.Flags().Int("limit", 20, "maximum number of hits")

	rootCmd.AddCommand(daemonCmd, indexCmd, searchCmd, registryCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// loadConfig resolves a config.Config from the environment, overriding
// WorkspaceRoot with the --workspace flag when given.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Load()
	if ws, _ := cmd.Flags().GetString("workspace"); ws != "" {
		cfg.WorkspaceRoot = ws
	}
	return cfg
}

func canonicalWorkspace(cfg *config.Config) (string, error) {
	if cfg.WorkspaceRoot == "" {
		return "", fmt.Errorf("no workspace root given (set --workspace or WORKSPACE_ROOT)")
	}
	return filepath.Abs(cfg.WorkspaceRoot)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the sari indexing daemon for a workspace",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the indexing daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)

		d, err := daemon.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize daemon: %w", err)
		}
		if err := d.Start(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}

		daemon.Version = Version
		metrics.SetVersion(Version)
		metrics.RegisterComponent("storage", true, "ready")
		metrics.RegisterComponent("search", true, "ready")

		ctx, cancel := context.WithCancel(context.Background())
		apiServer := api.NewServer(d)
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(ctx, cfg); err != nil {
				errCh <- err
			}
		}()

		fmt.Printf("sari daemon started (boot_id=%s, workspace=%s)\n", d.BootID, cfg.WorkspaceRoot)
		fmt.Printf("  http api: http://%s:%d\n", cfg.HTTPAPIHost, cfg.HTTPAPIPort)
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\napi server error: %v\n", err)
		}

		cancel()
		d.Stop()
		fmt.Println("sari daemon stopped")
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running daemon bound to this workspace to exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		canonicalRoot, err := canonicalWorkspace(cfg)
		if err != nil {
			return err
		}

		reg, err := registry.Open(registry.DefaultPath())
		if err != nil {
			return fmt.Errorf("opening registry: %w", err)
		}

		ep, err := reg.ResolveEndpoint(canonicalRoot, cfg.DaemonOverride, registry.Endpoint{})
		if err != nil {
			return fmt.Errorf("no daemon bound to %s: %w", canonicalRoot, err)
		}

		daemons, _, _, err := reg.Snapshot()
		if err != nil {
			return err
		}
		entry, ok := daemons[ep.BootID]
		if !ok {
			return fmt.Errorf("daemon %s not found in registry", ep.BootID)
		}

		if err := syscall.Kill(entry.PID, syscall.SIGTERM); err != nil {
			return fmt.Errorf("signaling pid %d: %w", entry.PID, err)
		}
		fmt.Printf("sent SIGTERM to daemon %s (pid %d)\n", ep.BootID, entry.PID)
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the daemon currently bound to this workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		canonicalRoot, err := canonicalWorkspace(cfg)
		if err != nil {
			return err
		}

		reg, err := registry.Open(registry.DefaultPath())
		if err != nil {
			return err
		}
		ep, err := reg.ResolveEndpoint(canonicalRoot, cfg.DaemonOverride, registry.Endpoint{})
		if err != nil {
			fmt.Printf("no daemon bound to %s\n", canonicalRoot)
			return nil
		}
		return printJSON(ep)
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Drive the indexing pipeline directly, without a long-running daemon",
}

var indexScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a synchronous full scan of the workspace and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		cfg.StartupIndex = false // the explicit ScanOnce calls below replace it

		d, err := daemon.New(cfg)
		if err != nil {
			return err
		}
		if err := d.Start(); err != nil {
			return err
		}
		defer d.Stop()

		for rootID, path := range d.Roots() {
			fmt.Printf("scanning %s (%s)...\n", path, rootID)
			if err := d.Indexer.ScanOnce(rootID, path); err != nil {
				fmt.Fprintf(os.Stderr, "scan of %s failed: %v\n", path, err)
			}
		}
		d.Writer.Flush(5 * time.Second)
		fmt.Println("scan complete")
		return nil
	},
}

var indexRescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Ask a running daemon to rescan this workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		canonicalRoot, err := canonicalWorkspace(cfg)
		if err != nil {
			return err
		}
		ep, err := resolveHTTPEndpoint(cfg, canonicalRoot)
		if err != nil {
			return err
		}
		return httpGetAndPrint(fmt.Sprintf("http://%s:%d/rescan", ep.HTTPHost, ep.HTTPPort))
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the index of a running daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		canonicalRoot, err := canonicalWorkspace(cfg)
		if err != nil {
			return err
		}
		ep, err := resolveHTTPEndpoint(cfg, canonicalRoot)
		if err != nil {
			return err
		}

		repo, _ := cmd.Flags().GetString("repo")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		q.Set("q", args[0])
		if repo != "" {
			q.Set("repo", repo)
		}
		q.Set("limit", strconv.Itoa(limit))

		return httpGetAndPrint(fmt.Sprintf("http://%s:%d/search?%s", ep.HTTPHost, ep.HTTPPort, q.Encode()))
	},
}

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the daemon registry",
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every daemon, workspace binding, and deployment state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		path := cfg.RegistryFile
		if path == "" {
			path = registry.DefaultPath()
		}
		reg, err := registry.Open(path)
		if err != nil {
			return err
		}
		daemons, workspaces, deployment, err := reg.Snapshot()
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"daemons":    daemons,
			"workspaces": workspaces,
			"deployment": deployment,
		})
	},
}

// resolveHTTPEndpoint resolves the registry binding for canonicalRoot,
// honoring DAEMON_OVERRIDE the way pkg/registry.ResolveEndpoint does.
func resolveHTTPEndpoint(cfg *config.Config, canonicalRoot string) (registry.Endpoint, error) {
	reg, err := registry.Open(registry.DefaultPath())
	if err != nil {
		return registry.Endpoint{}, err
	}
	envFallback := registry.Endpoint{}
	if cfg.DaemonOverride {
		envFallback = registry.Endpoint{HTTPHost: cfg.HTTPAPIHost, HTTPPort: cfg.HTTPAPIPort}
	}
	ep, err := reg.ResolveEndpoint(canonicalRoot, cfg.DaemonOverride, envFallback)
	if err != nil {
		return registry.Endpoint{}, fmt.Errorf("no daemon bound to %s: %w", canonicalRoot, err)
	}
	if ep.HTTPHost == "" {
		ep.HTTPHost = cfg.HTTPAPIHost
	}
	return ep, nil
}

func httpGetAndPrint(rawURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return printJSON(v)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
