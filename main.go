// daypilot - Plan the rest of your day from a free-form task list.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	// IANA zone data for hosts without /usr/share/zoneinfo.
	_ "time/tzdata"

	"github.com/jeranaias/daypilot/internal/cli"
)

// Version information (set at build time)
var (
	Version   = ""
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if Version != "" {
		cli.Version = Version
	}
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
	os.Exit(cli.Execute())
}
