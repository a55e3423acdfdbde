// Command s7cli is a small demo client: it connects to a controller, loads
// a YAML poll-list, and logs tag values on an interval.
package main

import (
	"context"
	"flag"
	"time"

	log "github.com/sirupsen/logrus"

	"s7link/s7"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (host, rack, slot, poll list)")
	address := flag.String("addr", "", "PLC address host:port, overrides -config")
	rack := flag.Int("rack", s7.DefaultRack, "CPU rack")
	slot := flag.Int("slot", s7.DefaultSlot, "CPU slot")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	verbose := flag.Bool("v", false, "trace-level logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.TraceLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	var cfg *s7.Config
	if *configPath != "" {
		loaded, err := s7.LoadConfig(*configPath)
		if err != nil {
			log.WithError(err).Fatal("load config")
		}
		cfg = loaded
	} else {
		cfg = s7.DefaultConfig()
		cfg.Rack, cfg.Slot = *rack, *slot
	}
	if *address != "" {
		cfg.Host, cfg.Port = *address, 0
	}
	if cfg.Host == "" {
		log.Fatal("no PLC address: pass -addr or -config")
	}

	ep := s7.NewEndpoint(cfg.Address(), append(cfg.EndpointOptions(), s7.WithEndpointLogger(log.StandardLogger()))...)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := ep.Connect(ctx); err != nil {
		log.WithError(err).Fatal("connect")
	}
	defer ep.Disconnect()
	log.WithField("pduSize", ep.Conn().PDUSize()).Info("connected")

	if len(cfg.Poll) == 0 {
		log.Info("no poll list configured; exiting after connect")
		return
	}

	group, err := ep.NewItemGroup()
	if err != nil {
		log.WithError(err).Fatal("create item group")
	}
	group.SetOptimizationGap(cfg.Gap())

	tags := make(map[string]string, len(cfg.Poll))
	for _, t := range cfg.Poll {
		tags[t.Name] = t.Address
	}
	if err := group.AddItems(tags); err != nil {
		log.WithError(err).Fatal("add poll items")
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for range ticker.C {
		readCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		values, err := group.ReadAllItems(readCtx)
		cancel()
		if err != nil {
			log.WithError(err).Warn("poll read failed")
			continue
		}
		for name, v := range values {
			log.WithField("tag", name).Info(v.GoValue())
		}
	}
}
