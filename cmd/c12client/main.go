// Command c12client wires a config file, a TCP channel, and a logrus-backed
// monitor into an engine.Engine, and optionally starts the diag HTTP
// server, for manual and integration use. It is not itself the protocol
// engine; it exists the way the teacher's main.go exists, to assemble the
// real components under one process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/channel/tcp"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/config"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/diag"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/engine"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/monitor/logmonitor"
)

var Version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if level, lerr := log.ParseLevel(cfg.Logs.Level); lerr == nil {
		log.SetLevel(level)
	}

	log.Infof("Starting c12client v%s", Version)
	log.Infof("  meter address: %s", cfg.Channel.Address)
	log.Infof("  sessionless: %v", cfg.Session.Sessionless)

	engCfg, err := cfg.EngineConfig()
	if err != nil {
		log.Fatalf("Invalid engine config: %v", err)
	}

	mon := logmonitor.New(nil)
	ch := tcp.New(cfg.Channel.Address, mon)
	eng := engine.New(engCfg, ch, mon)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	if cfg.Diag.Enabled {
		diagSrv := diag.NewServer(eng, cfg.Diag.Address)
		go func() {
			<-ctx.Done()
			diagSrv.Close()
		}()
		go func() {
			log.Infof("Starting diag server on %s", cfg.Diag.Address)
			if err := diagSrv.ListenAndServe(); err != nil {
				log.Errorf("diag server error: %v", err)
			}
		}()
	}

	if err := eng.Connect(); err != nil {
		log.Fatalf("Connect failed: %v", err)
	}
	defer eng.Disconnect()

	if err := eng.StartSession(); err != nil {
		log.Fatalf("StartSession failed: %v", err)
	}
	defer eng.EndSessionNoThrow()

	log.Info("Session established; idling until shutdown")
	<-ctx.Done()
}
