// Copyright 2015 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Program saltoctl parses a directory of NaCl files, merges and validates
// them, and renders the result in one of a few registered formats.
//
// Usage: saltoctl [--adapter NAME] [--format FORMAT] [FORMAT OPTIONS] DIR
//
// DIR is a directory of ".nacl" files (no environments, no hidden state —
// for that, drive internal/workspace directly; this is the one-shot
// inspection tool). FORMAT, which defaults to "tree", selects the output
// renderer. Use "saltoctl --help" for the list of available formats.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pborman/getopt"

	"github.com/salto-io/workspace-core/internal/element"
	workspaceerrors "github.com/salto-io/workspace-core/internal/errors"
	"github.com/salto-io/workspace-core/internal/workspaceutil"
	"github.com/salto-io/workspace-core/pkg/indent"
)

// Result is what a format renderer receives: the merged element map (by
// full name) plus every collected diagnostic from the load.
type Result struct {
	Elements map[string]element.Element
	Errors   []error
}

// Each format must register a formatter with register. f is called once
// with the loaded Result.
type formatter struct {
	name  string
	f     func(io.Writer, Result)
	help  string
	flags *getopt.Set
}

var formatters = map[string]*formatter{}

func register(f *formatter) {
	formatters[f.name] = f
}

var stop = os.Exit

func main() {
	var format string
	var adapter string
	formats := make([]string, 0, len(formatters))
	for k := range formatters {
		formats = append(formats, k)
	}
	sort.Strings(formats)

	var help bool
	getopt.StringVarLong(&format, "format", 0, "format to display: "+strings.Join(formats, ", "), "FORMAT")
	getopt.StringVarLong(&adapter, "adapter", 0, "default adapter for bare names", "NAME")
	getopt.BoolVarLong(&help, "help", '?', "display help")
	getopt.SetParameters("[FORMAT OPTIONS] DIR")

	if err := getopt.Getopt(func(o getopt.Option) bool {
		if o.Name() == "--format" {
			f, ok := formatters[format]
			if !ok {
				fmt.Fprintf(os.Stderr, "%s: invalid format. Choices are %s\n", format, strings.Join(formats, ", "))
				stop(1)
			}
			if f.flags != nil {
				f.flags.VisitAll(func(o getopt.Option) {
					getopt.AddOption(o)
				})
			}
		}
		return true
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		getopt.PrintUsage(os.Stderr)
		stop(1)
		return
	}

	if help {
		getopt.CommandLine.PrintUsage(os.Stderr)
		fmt.Fprintf(os.Stderr, "\nFormats:\n")
		for _, fn := range formats {
			f := formatters[fn]
			fmt.Fprintf(os.Stderr, "    %s - %s\n", f.name, f.help)
			if f.flags != nil {
				f.flags.PrintOptions(indent.NewWriter(os.Stderr, "   "))
			}
			fmt.Fprintln(os.Stderr)
		}
		stop(0)
		return
	}

	if format == "" {
		format = "tree"
	}
	if _, ok := formatters[format]; !ok {
		fmt.Fprintf(os.Stderr, "%s: invalid format. Choices are %s\n", format, strings.Join(formats, ", "))
		stop(1)
		return
	}

	args := getopt.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "saltoctl: exactly one DIR argument is required")
		getopt.PrintUsage(os.Stderr)
		stop(1)
		return
	}

	res, err := workspaceutil.LoadWorkspace(context.Background(), nil, args[0], adapter)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop(1)
		return
	}

	formatters[format].f(os.Stdout, Result{Elements: res.Elements, Errors: res.Errors})

	for _, e := range res.Errors {
		if d, ok := e.(workspaceerrors.Diagnostic); ok && d.Severity() == workspaceerrors.SeverityError {
			stop(1)
			return
		}
	}
}
