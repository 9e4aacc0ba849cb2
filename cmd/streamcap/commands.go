package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/streamcap"
	"github.com/loykin/streamcap/internal/logger"
	"github.com/loykin/streamcap/internal/netdiag"
	"github.com/loykin/streamcap/internal/server"
	"github.com/loykin/streamcap/internal/snapshot"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the capture client in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := streamcap.LoadConfig(g.ConfigPath)
			if err != nil {
				return err
			}
			console := logger.NewConsole(os.Stdout, slog.LevelInfo)

			app, err := streamcap.New(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Start(); err != nil {
				return err
			}

			var srv *http.Server
			if cfg.Server.Enabled {
				srv = server.NewServer(cfg.Server.Listen, cfg.Server.BasePath, app, cfg.Metrics.Enabled)
				console.Info("status server listening", "addr", cfg.Server.Listen)
			}

			console.Info("client started", "stream", cfg.Stream.URL, "recording", cfg.Recording.Enabled)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			console.Info("shutting down")

			if srv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				_ = srv.Shutdown(ctx)
				cancel()
			}
			app.Stop()
			console.Info("client stopped")
			return nil
		},
	}
}

func newStatusCmd(g *GlobalFlags) *cobra.Command {
	var asJSON bool
	var apiURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running capture client",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := resolveClient(g, apiURL)
			if err != nil {
				return err
			}

			if asJSON {
				snap, err := client.Status()
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			summary, err := client.Summary()
			if err != nil {
				return err
			}
			fmt.Print(summary)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON format")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "Base URL of the running client's status server")
	return cmd
}

func newSnapshotCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Capture a single frame from the stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := streamcap.LoadConfig(g.ConfigPath)
			if err != nil {
				return err
			}
			if !cfg.Snapshots.Enabled {
				return fmt.Errorf("snapshots are disabled in %s", g.ConfigPath)
			}

			lg, err := newCommandLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = lg.Close() }()

			s, err := snapshot.New(snapshot.Config{
				URL:             cfg.Stream.URL,
				OutputDir:       cfg.Snapshots.OutputDir,
				IntervalSeconds: cfg.Snapshots.IntervalSeconds,
			}, lg)
			if err != nil {
				return err
			}

			path, err := s.Capture()
			if err != nil {
				return err
			}
			fmt.Printf("Snapshot saved: %s\n", path)
			return nil
		},
	}
}

func newReconnectCmd(g *GlobalFlags) *cobra.Command {
	var apiURL string

	cmd := &cobra.Command{
		Use:   "reconnect",
		Short: "Force a running capture client to reconnect immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := resolveClient(g, apiURL)
			if err != nil {
				return err
			}
			if err := client.Reconnect(); err != nil {
				return err
			}
			fmt.Println("Reconnected successfully.")
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "", "Base URL of the running client's status server")
	return cmd
}

func newDiagnoseCmd(g *GlobalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run network diagnostics against the RTMP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := streamcap.LoadConfig(g.ConfigPath)
			if err != nil {
				return err
			}

			fmt.Printf("Running diagnostics on: %s\n", cfg.Stream.URL)

			report, err := netdiag.New(nil).RunFull(cmd.Context(), cfg.Stream.URL)
			if err != nil {
				return err
			}
			fmt.Println(report.Summary)

			if asJSON {
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
			}

			if !report.OverallSuccess {
				return fmt.Errorf("some diagnostics failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output detailed JSON results")
	return cmd
}

func newCommandLogger(cfg *streamcap.Config) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logger.New(logger.Config{
		File:        cfg.Logging.File,
		Level:       level,
		RotateMaxMB: cfg.Logging.RotateMaxMB,
		BackupCount: cfg.Logging.RotateBackups,
	})
}

// resolveClient picks the API base URL: the explicit flag wins, then
// the config file's server listen address.
func resolveClient(g *GlobalFlags, apiURL string) (*APIClient, error) {
	if apiURL != "" {
		return NewAPIClient(apiURL, 0), nil
	}
	cfg, err := streamcap.LoadConfig(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if !cfg.Server.Enabled {
		return nil, fmt.Errorf("server is disabled in %s; pass --api-url or enable it", g.ConfigPath)
	}
	base := strings.TrimSuffix(cfg.Server.BasePath, "/")
	return NewAPIClient("http://"+cfg.Server.Listen+base, 0), nil
}
