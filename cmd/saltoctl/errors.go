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

package main

import (
	"fmt"
	"io"

	"github.com/salto-io/workspace-core/internal/elemid"
	workspaceerrors "github.com/salto-io/workspace-core/internal/errors"
	"github.com/salto-io/workspace-core/pkg/indent"
)

func init() {
	register(&formatter{
		name: "errors",
		f:    doErrors,
		help: "display collected parse/merge/validation errors, grouped by element",
	})
}

func doErrors(w io.Writer, res Result) {
	diags := make([]workspaceerrors.Diagnostic, 0, len(res.Errors))
	for _, e := range res.Errors {
		if d, ok := e.(workspaceerrors.Diagnostic); ok {
			diags = append(diags, d)
		} else {
			fmt.Fprintln(w, e)
		}
	}
	groups := workspaceerrors.GroupByRootID(diags, topLevelID)
	for _, g := range groups {
		label := "(no element)"
		if len(g.Errors) > 0 {
			if _, ok := g.Errors[0].ElemID(); ok {
				label = g.RootID.GetFullName()
			}
		}
		fmt.Fprintf(w, "%s:\n", label)
		gw := indent.NewWriter(w, "  ")
		for _, d := range g.Errors {
			fmt.Fprintln(gw, d.Error())
		}
	}
}

// topLevelID reduces id to its top-level element for grouping; errors
// with no meaningful ElemID (e.g. parse errors) never reach here since
// GroupByRootID only calls this for diagnostics whose ElemID() is ok.
func topLevelID(id elemid.ID) elemid.ID {
	top, _ := id.CreateTopLevelParentID()
	return top
}
