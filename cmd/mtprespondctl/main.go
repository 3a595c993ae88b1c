// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/alecthomas/kong"

	"github.com/open-source-firmware/go-mtp-responder/pkg/cmdutil"
)

const (
	programName = "mtprespondctl"
	programDesc = "Media Transfer Protocol device responder control"
)

// cli is the top-level kong command-line interface.
var cli struct {
	Seed    seedCmd    `cmd:"" help:"Populate a storage's object tree from a filesystem directory."`
	Serve   serveCmd   `cmd:"" help:"Run the responder engine against a Unix domain socket."`
	Dump    dumpCmd    `cmd:"" help:"Print the device/storage/object tree."`
	Metrics metricsCmd `cmd:"" help:"Serve Prometheus metrics describing engine activity."`
}

// context is the context struct required by kong command line parser.
type context struct{}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.NamedMapper("accessibledir", cmdutil.AccessibleDirMapper()),
		kong.NamedMapper("accessiblefile", cmdutil.AccessibleFileMapper()),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	err := ctx.Run(&context{})
	ctx.FatalIfErrorf(err)
}
