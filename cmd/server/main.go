package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"fleetwatch/tracking-server/internal/app"
	"fleetwatch/tracking-server/internal/config"
	"fleetwatch/tracking-server/internal/model"
	"fleetwatch/tracking-server/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tracking-server",
		Short: "Vehicle tracking server with toll submission pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	rootCmd.AddCommand(serveCmd(), geofenceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tracking server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application terminated", "error", err)
		return err
	}

	logger.Info("application stopped cleanly")
	return nil
}

func geofenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geofence",
		Short: "Geofence management commands",
	}

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Load geofence polygons from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGeofenceImport(args[0])
		},
	}

	cmd.AddCommand(importCmd)
	return cmd
}

type geofenceFile struct {
	Name string `json:"name"`
	Area string `json:"area"`
}

// runGeofenceImport loads a JSON array of {name, area} polygons into the
// geofence table. The server picks them up on next start.
func runGeofenceImport(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read geofence file: %w", err)
	}

	var fences []geofenceFile
	if err := json.Unmarshal(data, &fences); err != nil {
		return fmt.Errorf("decode geofence file: %w", err)
	}
	if len(fences) == 0 {
		return fmt.Errorf("geofence file %s holds no polygons", path)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	for _, fence := range fences {
		if fence.Name == "" || fence.Area == "" {
			return fmt.Errorf("geofence entries need both name and area")
		}
		id, err := db.InsertGeofence(ctx, model.Geofence{Name: fence.Name, Area: fence.Area})
		if err != nil {
			return err
		}
		fmt.Printf("imported geofence %q (id %d)\n", fence.Name, id)
	}

	fmt.Printf("imported %d geofences into %s\n", len(fences), cfg.DatabasePath)
	return nil
}

func logLevel(level string) slog.Leveler {
	var lvl slog.Level

	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	lv := new(slog.LevelVar)
	lv.Set(lvl)
	return lv
}
