// troopy - an interactive chat shell for remote LLM endpoints.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/troopy/troopy/internal/cli"
	"github.com/troopy/troopy/internal/config"
)

func main() {
	cmd, args := cli.Parse()

	switch cmd {
	case cli.CmdVersion:
		cli.PrintVersion()

	case cli.CmdHelp:
		cli.PrintUsage()

	default:
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "troopy: %v\n", err)
			os.Exit(1)
		}
		config.SetGlobal(cfg)
		if err := cli.HandleChat(args); err != nil {
			fmt.Fprintf(os.Stderr, "troopy: %v\n", err)
			os.Exit(1)
		}
	}
}
