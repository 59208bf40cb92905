package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/router-for-me/MealPlanProxy/internal/app"
	"github.com/router-for-me/MealPlanProxy/internal/config"
	log "github.com/sirupsen/logrus"
)

// main runs the server and exits on unrecoverable errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	errRun := run(ctx, os.Args[1:])
	stop()
	if errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and serves until ctx is cancelled.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 0, "listen port, overrides the config file")
	migrateOnly := fs.Bool("migrate", false, "run database migrations and exit")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if *port != 0 {
		if errValidate := validatePort(*port); errValidate != nil {
			return errValidate
		}
	}

	if errEnv := godotenv.Load(); errEnv != nil && !os.IsNotExist(errEnv) {
		log.WithError(errEnv).Warn("failed to load .env file")
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}

	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	if *migrateOnly {
		app.ConfigureLogging(cfg.Logging)
		if errMigrate := app.Migrate(cfg); errMigrate != nil {
			return errMigrate
		}
		log.Info("migrations applied")
		return nil
	}

	if errValidate := cfg.Validate(); errValidate != nil {
		return errValidate
	}
	return app.RunServer(ctx, cfg)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
