// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// nqxctl is an interactive shell for nqxd.
//
// Frames read from the controller are printed as they arrive.
//
// Usage:
//
//	nqxctl [-addr host:port | -discover]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/chzyer/readline"
	"github.com/grandcat/zeroconf"
	"periph.io/x/nqx/v3/server"
)

func mainImpl() error {
	addr := flag.String("addr", "localhost:5780", "nqxd address")
	discover := flag.Bool("discover", false, "find nqxd over mDNS instead of using -addr")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *discover {
		a, err := browse(ctx, 3*time.Second)
		if err != nil {
			return err
		}
		*addr = a
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "nqx> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	sh := &shell{out: rl.Stdout(), timeout: *timeout}
	c, err := dial(ctx, "ws://"+*addr+"/ws", sh.printFrame)
	if err != nil {
		return err
	}
	defer c.Close()
	sh.do = c.do
	fmt.Fprintf(rl.Stdout(), "Connected to %s\n", *addr)

	go func() {
		<-c.done
		fmt.Fprintln(rl.Stdout(), "Disconnected")
		cancel()
		_ = rl.Close()
	}()
	sh.run(ctx, rl)
	return nil
}

// browse returns the address of the first nqxd advertised on the network.
func browse(ctx context.Context, wait time.Duration) (string, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	if err := r.Browse(ctx, server.MDNSServiceType, server.MDNSDomain, entries); err != nil {
		return "", err
	}
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return "", errors.New("no nqxd found")
			}
			if len(e.AddrIPv4) != 0 {
				return net.JoinHostPort(e.AddrIPv4[0].String(), strconv.Itoa(e.Port)), nil
			}
			if len(e.AddrIPv6) != 0 {
				return net.JoinHostPort(e.AddrIPv6[0].String(), strconv.Itoa(e.Port)), nil
			}
		case <-ctx.Done():
			return "", errors.New("no nqxd found")
		}
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "nqxctl: %s.\n", err)
		os.Exit(1)
	}
}
