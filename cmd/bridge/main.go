package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lawnchairsociety/twbridge/internal/antispam"
	"github.com/lawnchairsociety/twbridge/internal/bridge"
	"github.com/lawnchairsociety/twbridge/internal/chatfilter"
	"github.com/lawnchairsociety/twbridge/internal/config"
	"github.com/lawnchairsociety/twbridge/internal/discord"
	"github.com/lawnchairsociety/twbridge/internal/econ"
	"github.com/lawnchairsociety/twbridge/internal/logger"
	"github.com/lawnchairsociety/twbridge/internal/namefilter"
	"github.com/lawnchairsociety/twbridge/internal/store"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "config.yaml", "Path to bridge config YAML file")
	checkOnly := flag.Bool("check", false, "Validate the config file and exit")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config %s:\n%v", *configFile, err)
	}
	if *checkOnly {
		fmt.Printf("Config %s is valid (%d bindings).\n", *configFile, len(cfg.Bindings()))
		return
	}

	// Initialize logger first (before any logging)
	if err := logger.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Close()

	logger.Info("Starting Teeworlds Discord bridge")

	// Mute list storage
	db, err := store.OpenWithConfig(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	logger.Info("Mute store initialized", "driver", cfg.Database.Driver)

	// Outbound chat filter and anti-spam, shared by every bridge
	filter := chatfilter.New(&cfg.ChatFilter)
	if filter.IsEnabled() {
		logger.Info("Chat filter enabled", "mode", filter.Mode(), "words", len(cfg.ChatFilter.BannedWords))
	}
	spamCfg := antispam.Config{Enabled: false}
	if a := cfg.ChatFilter.Antispam; a != nil {
		spamCfg = antispam.ConfigFromYAML(a.Enabled, a.MaxMessages, a.TimeWindowSeconds, a.RepeatCooldownSeconds)
		if spamCfg.Enabled {
			logger.Info("Anti-spam enabled", "max_messages", spamCfg.MaxMessages, "time_window", spamCfg.TimeWindow)
		}
	}
	spam := antispam.NewLimiter(spamCfg)

	// Inbound name filter
	names := namefilter.New(&cfg.NameFilter)
	if names.IsEnabled() {
		logger.Info("Name filter enabled", "banned_words", len(cfg.NameFilter.BannedWords), "banned_names", len(cfg.NameFilter.BannedNames))
	}

	econOpts := cfg.EconOptions()
	dc := discord.NewClient(discord.Options{
		Token:   cfg.DiscordToken,
		Backoff: econOpts.Backoff,
	})

	// One console client per binding
	var bridges []*bridge.Bridge
	for _, binding := range cfg.Bindings() {
		opts := econOpts
		opts.Name = binding.Name
		client := econ.NewClient(binding.Endpoint, opts)
		bridges = append(bridges, bridge.New(binding, client, dc, bridge.Options{
			Limits: cfg.RelayLimits(),
			Filter: filter,
			Spam:   spam,
			Mutes:  db,
			Names:  names,
		}))
		logger.Info("Binding configured", "server", binding.Name, "addr", binding.Endpoint.Addr(),
			"guild", binding.GuildID, "channel", binding.ChannelID,
			"show_joins", binding.ShowJoins, "show_leaves", binding.ShowLeaves, "blacklist", len(binding.Blacklist))
	}

	registry, err := bridge.NewRegistry(bridges...)
	if err != nil {
		log.Fatalf("Failed to build bridge registry: %v", err)
	}
	service := bridge.NewService(registry, bridge.ServiceOptions{
		Admins: cfg.Admins(),
		Mutes:  db,
		Spam:   spam,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down bridge")
		cancel()
	}()

	logger.Info("Bridge running", "bindings", registry.Len())
	logger.Info("Press Ctrl+C to shutdown")

	// The gateway drives the service; bridges start on the first READY.
	if err := dc.Run(ctx, service); err != nil {
		logger.Error("Discord gateway stopped", "error", err)
	}
	cancel()
	service.Wait()
	logger.Info("Bridge stopped")
}
