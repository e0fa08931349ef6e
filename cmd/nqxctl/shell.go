// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"periph.io/x/nqx/v3/nqx"
	"periph.io/x/nqx/v3/wire"
)

type doFunc func(ctx context.Context, r *wire.Request) (*wire.Response, error)

// shell runs the interactive commands against a daemon.
type shell struct {
	out     io.Writer
	do      doFunc
	timeout time.Duration
}

func (s *shell) run(ctx context.Context, rl *readline.Instance) {
	s.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return
		}
		if s.exec(ctx, line) {
			return
		}
	}
}

// exec runs one command line. It returns true when the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]
	var r *wire.Request
	switch cmd {
	case "help", "?":
		s.printHelp()
		return false
	case "quit", "exit", "q":
		return true
	case "power":
		states := map[string]nqx.PowerState{"off": nqx.PowerOff, "on": nqx.PowerOn, "fw": nqx.PowerDownload}
		st, ok := states[arg(args)]
		if !ok {
			fmt.Fprintln(s.out, "Usage: power off|on|fw")
			return false
		}
		r = &wire.Request{Op: wire.OpIoctl, Cmd: uint32(nqx.SetPower), Arg: uint32(st)}
	case "ese":
		switch arg(args) {
		case "on":
			r = &wire.Request{Op: wire.OpIoctl, Cmd: uint32(nqx.ESESetPower), Arg: nqx.ESEAcquire}
		case "off":
			r = &wire.Request{Op: wire.OpIoctl, Cmd: uint32(nqx.ESESetPower), Arg: nqx.ESERelease}
		case "get":
			r = &wire.Request{Op: wire.OpIoctl, Cmd: uint32(nqx.ESEGetPower)}
		default:
			fmt.Fprintln(s.out, "Usage: ese on|off|get")
			return false
		}
	case "info":
		r = &wire.Request{Op: wire.OpInfo}
	case "ntf":
		r = &wire.Request{Op: wire.OpIoctl, Cmd: uint32(nqx.GetCoreResetNtf)}
	case "irq":
		r = &wire.Request{Op: wire.OpIRQ}
	case "send":
		b, err := hex.DecodeString(strings.Join(args, ""))
		if err != nil || len(b) == 0 {
			fmt.Fprintln(s.out, "Usage: send <hex>")
			fmt.Fprintln(s.out, "  Example: send 20 00 01 00")
			return false
		}
		r = &wire.Request{Op: wire.OpWrite, Data: b}
	case "suspend":
		r = &wire.Request{Op: wire.OpSuspend}
	case "resume":
		r = &wire.Request{Op: wire.OpResume}
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.do(ctx, r)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return false
	}
	if err := resp.Err(); err != nil {
		fmt.Fprintf(s.out, "Failed: %v\n", err)
		return false
	}
	switch {
	case r.Op == wire.OpInfo:
		fmt.Fprintf(s.out, "%s (0x%08X)\n", resp.Data, uint32(resp.Result))
	case cmd == "ese" && arg(args) == "get", cmd == "ntf", cmd == "irq":
		fmt.Fprintln(s.out, resp.Result)
	case cmd == "send":
		fmt.Fprintf(s.out, "-> % X (%d bytes)\n", r.Data, resp.Result)
	default:
		fmt.Fprintln(s.out, "OK")
	}
	return false
}

func (s *shell) printFrame(b []byte) {
	fmt.Fprintf(s.out, "<- % X\n", b)
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, `Commands:
  power off|on|fw   Set the controller power state
  ese on|off|get    Control the secure element power
  info              Show the controller identity
  ntf               Show whether a CORE_RESET_NTF is expected
  irq               Show the IRQ line level
  send <hex>        Send an NCI packet
  suspend           Suspend the session
  resume            Resume the session
  quit              Exit`)
}

func arg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.ToLower(args[0])
}
