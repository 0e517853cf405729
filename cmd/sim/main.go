package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"

	"github.com/lockstep-engine/lockstep/internal/core/config"
	"github.com/lockstep-engine/lockstep/internal/sim"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	entities := flag.Int("entities", 64, "number of demo entities to spawn")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Println("Error loading config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	switch cfg.Profile {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, err := sim.NewHost(cfg)
	if err != nil {
		fmt.Println("Error creating host:", err)
		os.Exit(1)
	}
	if _, err := sim.SetupDemo(host, *entities); err != nil {
		fmt.Println("Error setting up demo scene:", err)
		os.Exit(1)
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	if err := host.Start(ctx); err != nil {
		fmt.Println("Error starting simulation:", err)
	}

	<-stopCh
	cancel()
	if err := host.Stop(); err != nil {
		fmt.Println("Error stopping simulation:", err)
	}
}
