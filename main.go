package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	rpcbackend "veil/privacy-service/backend"
	"veil/privacy-service/config"
	"veil/privacy-service/logging"
	"veil/privacy-service/privacy"
	"veil/privacy-service/server"
	"veil/privacy-service/store"
)

func main() {
	runCli()
}

func runCli() {
	app := cli.App{
		Name:                 "privacy-service",
		Usage:                "privacy proof and state synchronization service",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Run the privacy API and metrics servers",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Usage: "Path to TOML config file", Required: false},
					&cli.StringFlag{Name: "rpc-url", Usage: "RPC endpoint of the proving backend (must match an allowed provider)", Required: false},
					&cli.StringFlag{Name: "address", Usage: "Address for the privacy API server", Value: "0.0.0.0:3001"},
					&cli.StringFlag{Name: "metrics-address", Usage: "Address for the metrics server", Value: "0.0.0.0:9998"},
					&cli.StringFlag{Name: "redis-url", Usage: "Redis URL for the note/session store (optional)", Required: false},
					&cli.StringFlag{Name: "api-key", Usage: "Static API key guarding the API server (optional)", Required: false},
					&cli.BoolFlag{Name: "json-logging", Usage: "Enable JSON logging", Required: false},
				},
				Action: func(context *cli.Context) error {
					if context.Bool("json-logging") {
						logging.SetJSONOutput()
					}

					cfg, err := loadConfig(context)
					if err != nil {
						return err
					}

					svc := privacy.New(buildBackend(cfg), privacy.Options{Config: &cfg})

					var noteStore server.Store
					if redisURL := context.String("redis-url"); redisURL != "" {
						redisStore, err := store.NewRedisStore(redisURL)
						if err != nil {
							return fmt.Errorf("note store unavailable: %w", err)
						}
						defer redisStore.Close()
						noteStore = redisStore
					}

					job := server.Run(&server.Config{
						Address:        context.String("address"),
						MetricsAddress: context.String("metrics-address"),
						APIKey:         context.String("api-key"),
					}, svc, noteStore)

					sigint := make(chan os.Signal, 1)
					signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
					<-sigint
					logging.Logger().Info().Msg("received signal, shutting down")
					job.RequestStop()
					job.AwaitStop()
					return nil
				},
			},
			{
				Name:  "check",
				Usage: "Run one capability probe and print the snapshot as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Usage: "Path to TOML config file", Required: false},
					&cli.StringFlag{Name: "rpc-url", Usage: "RPC endpoint of the proving backend", Required: false},
				},
				Action: func(context *cli.Context) error {
					cfg, err := loadConfig(context)
					if err != nil {
						return err
					}

					svc := privacy.New(buildBackend(cfg), privacy.Options{Config: &cfg})
					snapshot := svc.CheckCapabilities(context.Context)

					encoder := json.NewEncoder(os.Stdout)
					encoder.SetIndent("", "  ")
					return encoder.Encode(snapshot)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Logger().Fatal().Err(err).Msg("App failed")
	}
}

func loadConfig(context *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if file := context.String("config"); file != "" {
		loaded, err := config.ReadConfig(file)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", file, err)
		}
		cfg = loaded
	}
	if rpcURL := context.String("rpc-url"); rpcURL != "" {
		cfg.RPCEndpoint = rpcURL
	}
	return cfg, nil
}

// buildBackend selects the capability provider: a Solana adapter when an
// allow-listed endpoint is configured, otherwise the null adapter, which
// keeps the whole service in simulation mode.
func buildBackend(cfg config.Config) privacy.Backend {
	endpoint := cfg.ResolveEndpoint()
	if endpoint == "" {
		if cfg.RPCEndpoint != "" {
			logging.Logger().Warn().
				Str("endpoint", cfg.RPCEndpoint).
				Msg("RPC endpoint rejected by provider allow-list, running in simulation mode")
		} else {
			logging.Logger().Info().Msg("no RPC endpoint configured, running in simulation mode")
		}
		return privacy.NullBackend{}
	}
	logging.Logger().Info().Str("endpoint", endpoint).Msg("using Solana proving backend")
	return rpcbackend.NewSolana(endpoint)
}
