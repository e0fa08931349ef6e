//go:build linux

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// nqxd serves an NQx NFC controller over WebSocket.
//
// It opens the controller on an I²C bus, exposes the session on /ws, /nfc_irq,
// /info and /health and tears it down when the device is removed.
//
// Usage:
//
//	nqxd [flags]
//
// Signals:
//
//	SIGINT, SIGTERM   shut down
//	SIGUSR1           suspend the session
//	SIGUSR2           resume the session
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/nqx/v3"
	"periph.io/x/nqx/v3/config"
	"periph.io/x/nqx/v3/netlink"
	"periph.io/x/nqx/v3/nqx"
	"periph.io/x/nqx/v3/server"
	"periph.io/x/nqx/v3/sysfs"
	"periph.io/x/nqx/v3/wire"
)

func mainImpl() error {
	cfgPath := flag.String("config", "", "configuration file")
	listen := flag.String("listen", "", "address to listen on, overrides server.listen")
	bus := flag.String("i2c", "", "I²C bus, overrides i2c.bus")
	addr := flag.String("addr", "", "I²C address, overrides i2c.addr")
	mdns := flag.Bool("mdns", false, "advertise the service over mDNS")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	logger := log.New(os.Stderr, "[nqxd] ", log.LstdFlags)
	devLogger := log.New(io.Discard, "", 0)
	if *verbose {
		devLogger = logger
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			return err
		}
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *bus != "" {
		cfg.I2C.Bus = *bus
	}
	if *addr != "" {
		a, err := strconv.ParseUint(*addr, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid -addr: %w", err)
		}
		cfg.I2C.Addr = uint16(a)
	}
	if *mdns {
		cfg.Server.MDNS = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	b, err := i2creg.Open(cfg.I2C.Bus)
	if err != nil {
		return err
	}
	defer b.Close()
	pins, err := nqx.PinsByName(cfg.Lines.VEN, cfg.Lines.IRQ, cfg.Lines.Firmware, cfg.Lines.ESE)
	if err != nil {
		return err
	}

	opts := cfg.Opts()
	opts.Logger = devLogger
	if cfg.WakeLock.Path != "" {
		opts.WakeLock = &sysfs.WakeLock{Path: cfg.WakeLock.Path}
	}
	if cfg.DevPath != "" {
		opts.WakeSource = sysfs.NewWakeup(cfg.DevPath)
	}
	dev, err := nqx.NewI2C(b, cfg.I2C.Addr, pins, opts)
	if err != nil {
		return err
	}
	defer dev.Close()
	logger.Printf("%s: %s", dev, dev.Info())

	f, err := dev.Open(0)
	if err != nil {
		return err
	}
	defer f.Close()

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return err
	}
	srv := server.New(server.Session(f), server.Config{
		MDNS:     cfg.Server.MDNS,
		Instance: cfg.Server.Instance,
		Logger:   logger,
	})
	if err := srv.Start(ln); err != nil {
		ln.Close()
		return err
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.DevPath != "" {
		go watchRemoval(ctx, logger, cfg.DevPath, dev)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sig)
	for {
		select {
		case s := <-sig:
			switch s {
			case syscall.SIGUSR1:
				if err := srv.Do(&wire.Request{Op: wire.OpSuspend}).Err(); err != nil {
					logger.Printf("suspend: %v", err)
				}
			case syscall.SIGUSR2:
				if err := srv.Do(&wire.Request{Op: wire.OpResume}).Err(); err != nil {
					logger.Printf("resume: %v", err)
				}
			default:
				logger.Printf("%s, shutting down", s)
				return nil
			}
		case <-srv.Done():
			return errors.New("session removed")
		}
	}
}

// watchRemoval closes dev when the kernel removes the device at devPath or
// one of its parents, for example the I²C adapter.
func watchRemoval(ctx context.Context, logger *log.Logger, devPath string, dev *nqx.Dev) {
	if p, err := filepath.EvalSymlinks(devPath); err == nil {
		devPath = p
	}
	s, err := netlink.NewUeventSocket()
	if err != nil {
		logger.Printf("device removal not monitored: %v", err)
		return
	}
	defer s.Close()
	for {
		u, err := s.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Printf("uevent: %v", err)
			}
			return
		}
		if u.Removes(devPath) {
			logger.Printf("%s removed (%s)", devPath, u)
			_ = dev.Close()
			return
		}
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "nqxd: %s.\n", err)
		os.Exit(1)
	}
}
