// Command neon-relay runs the stateless session/participant registry and
// forwarding engine, alongside its optional admin HTTP surface, Redis
// directory mirror, and on-demand Agones provisioning.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/neonproto/neon/internal/adminapi"
	"github.com/neonproto/neon/internal/config"
	"github.com/neonproto/neon/internal/directory"
	"github.com/neonproto/neon/internal/provision"
	"github.com/neonproto/neon/internal/relay"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	provMgr := provision.NewManager()
	provMgr.Register(provision.TypeNone, provision.NoneProvisioner{})
	if cfg.Provisioning.Enabled {
		agones := provision.NewAgonesProvisioner()
		if err := agones.Setup(true, cfg.Provisioning.Namespace, cfg.Provisioning.FleetName,
			cfg.Provisioning.AllocatorHost, cfg.Provisioning.AllocatorClientCert,
			cfg.Provisioning.AllocatorClientKey, cfg.Provisioning.AllocatorCACert); err != nil {
			logger.Fatal().Err(err).Msg("failed to set up Agones provisioner")
		}
		provMgr.Register(provision.TypeAgones, agones)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relayID := os.Getenv("NEON_RELAY_ID")
	if relayID == "" {
		relayID = "neon-relay"
	}

	engine, err := relay.New(relayID, cfg, logger, provMgr, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize relay engine")
	}

	// dir's Sink is engine, so it can only be built now that engine exists;
	// SetDirectory wires it back in before Start is ever called.
	dir := directory.New(cfg.Directory.Enabled, cfg.Directory.Address, cfg.Directory.Password,
		cfg.Directory.DB, cfg.Directory.Channel, relayID, engine, logger)
	engine.SetDirectory(dir)
	if dir != nil {
		if err := dir.LoadInitial(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to load initial directory state from Redis")
		}
		go dir.Subscribe(ctx)
	}

	go func() {
		if err := engine.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("relay engine error")
		}
	}()

	adminServer := adminapi.NewServer(cfg, engine)
	go func() {
		logger.Info().Int("port", cfg.AdminAPI.Port).Msg("admin API listening")
		if err := adminServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("admin API error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down neon-relay")
	cancel()
	_ = adminServer.Shutdown()
}
