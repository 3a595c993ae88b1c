// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/operation"
	"github.com/open-source-firmware/go-mtp-responder/pkg/seed"
	"github.com/open-source-firmware/go-mtp-responder/pkg/transport"
)

type seedCmd struct {
	Path     string `arg:"" type:"accessibledir" help:"Directory to walk into a new storage's object tree."`
	Storage  string `flag:"" optional:"" help:"Volume id to assign the new storage; defaults to its tagged handle."`
	Manifest string `flag:"" optional:"" type:"accessiblefile" help:"Text file listing extra individual files (one path per line) to seed at the storage root."`
}

func (c *seedCmd) Run(ctx *context) error {
	reg, err := operation.Default()
	if err != nil {
		return fmt.Errorf("operation.Default: %w", err)
	}
	dev := newDevice(reg)
	storageID := seed.NewStorage(dev, c.Path, c.Storage)
	if err := seed.Walk(dev, storageID, c.Path); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if c.Manifest != "" {
		n, err := seed.AddManifest(dev, storageID, c.Manifest)
		if err != nil {
			return fmt.Errorf("seed manifest: %w", err)
		}
		fmt.Printf("seeded %d additional object(s) from manifest %s\n", n, c.Manifest)
	}
	handles, err := dev.GetHandlesForStorage(storageID, 0)
	if err != nil {
		return err
	}
	fmt.Printf("seeded storage %#08x with %d objects from %s\n", uint32(storageID), len(handles), c.Path)
	spew.Dump(dev.Storages[storageID])
	return nil
}

type serveCmd struct {
	Socket string `flag:"" required:"" help:"Unix domain socket path to listen on."`
	Seed   string `flag:"" optional:"" type:"accessibledir" help:"Optional directory to seed a storage from before serving."`
}

func (c *serveCmd) Run(ctx *context) error {
	registry, err := operation.Default()
	if err != nil {
		return fmt.Errorf("operation.Default: %w", err)
	}
	dev := newDevice(registry)
	if c.Seed != "" {
		storageID := seed.NewStorage(dev, c.Seed, "")
		if err := seed.Walk(dev, storageID, c.Seed); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	engine := mtp.New(dev, registry, log.Default())

	ep, err := transport.ListenUnix(c.Socket)
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.Socket, err)
	}
	defer ep.Close()

	for {
		payload, err := ep.Receive()
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		frames, err := engine.HandlePayload(payload)
		if err != nil {
			log.Printf("mtprespondctl: %v", err)
			continue
		}
		for _, frame := range frames {
			if err := ep.Send(frame); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

type dumpCmd struct{}

func (c *dumpCmd) Run(ctx *context) error {
	registry, err := operation.Default()
	if err != nil {
		return fmt.Errorf("operation.Default: %w", err)
	}
	dev := newDevice(registry)
	spew.Dump(dev)
	return nil
}

type metricsCmd struct {
	Listen string `flag:"" default:":9420" help:"Address to serve /metrics on."`
	Once   bool   `flag:"" optional:"" help:"Print one text-exposition snapshot to stdout instead of serving HTTP."`
}

func (c *metricsCmd) Run(ctx *context) error {
	registry, err := operation.Default()
	if err != nil {
		return fmt.Errorf("operation.Default: %w", err)
	}
	dev := newDevice(registry)
	engine := mtp.New(dev, registry, log.Default())

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(engine)

	if c.Once {
		return dumpMetricsOnce(reg)
	}

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Printf("mtprespondctl: serving metrics on %s", c.Listen)
	return http.ListenAndServe(c.Listen, nil)
}

// dumpMetricsOnce gathers reg and writes it in Prometheus text exposition
// format to stdout, for scripting and cron-style scrapes that don't want
// to hold an HTTP listener open.
func dumpMetricsOnce(reg *prometheus.Registry) error {
	mfs, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return fmt.Errorf("serialize metrics: %w", err)
		}
	}
	return nil
}
