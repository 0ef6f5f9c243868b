// Command smosd is the SMOS coordinator daemon: it owns one store.Store and
// exposes it over the coordinator RPC channel until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AntonyMei/SharedMemoryObjectStore/coordinator"
	"github.com/AntonyMei/SharedMemoryObjectStore/store"
)

var version = "development"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	ip := flag.String("ip", "", "override the IP address to listen on")
	portLow := flag.Int("port-low", 0, "override the low end of the listen port range")
	portHigh := flag.Int("port-high", 0, "override the high end of the listen port range")
	authkey := flag.String("authkey", "", "authkey clients must present (overrides -config authkeyFile)")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.Lshortfile)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatalf("loading config %q: %v", *configPath, err)
	}
	if *ip != "" {
		cfg.IP = *ip
	}
	if *portLow != 0 {
		cfg.PortLow = *portLow
	}
	if *portHigh != 0 {
		cfg.PortHigh = *portHigh
	}

	key, err := resolveAuthkey(*authkey, cfg.AuthkeyFile)
	if err != nil {
		logger.Fatalf("resolving authkey: %v", err)
	}

	st := store.New(store.WithLogger(logger))
	for _, oc := range cfg.Objects {
		if err := st.Create(oc.Name, oc.MaxCapacity, oc.BlockSizeList, oc.TrackNameList); err != nil {
			logger.Fatalf("pre-creating object %q: %v", oc.Name, err)
		}
	}

	srv := coordinator.New(st, key, coordinator.WithLogger(logger))
	addr, err := srv.Listen(cfg.IP, cfg.PortLow, cfg.PortHigh)
	if err != nil {
		logger.Fatalf("binding listen port in [%d, %d]: %v", cfg.PortLow, cfg.PortHigh, err)
	}

	go func() {
		logger.Printf("smosd %s listening on %s", version, addr)
		if err := srv.Serve(); err != nil {
			logger.Fatal(err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Printf("stopping coordinator: %v", err)
	}
	if err := st.Stop(); err != nil {
		logger.Printf("stopping store: %v", err)
	}
}

// resolveAuthkey picks the authkey to use: an explicit -authkey flag wins,
// then the contents of an authkeyFile named in the config. There is no
// built-in default key: with neither set it returns an error.
func resolveAuthkey(flagValue, configFile string) ([]byte, error) {
	if flagValue != "" {
		return []byte(flagValue), nil
	}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading authkey file %q: %w", configFile, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("no authkey provided: pass -authkey or set authkeyFile in the config")
}
