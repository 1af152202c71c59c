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
	"sort"

	"github.com/salto-io/workspace-core/internal/element"
	"github.com/salto-io/workspace-core/pkg/indent"
)

func init() {
	register(&formatter{
		name: "tree",
		f:    doTree,
		help: "display elements in a tree format",
	})
}

func doTree(w io.Writer, res Result) {
	names := make([]string, 0, len(res.Elements))
	for n := range res.Elements {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		writeElement(w, n, res.Elements[n])
	}
}

// writeElement writes e, formatted, and all of its children, to w.
func writeElement(w io.Writer, name string, e element.Element) {
	switch el := e.(type) {
	case *element.PrimitiveType:
		fmt.Fprintf(w, "type %s %s\n", name, el.Primitive)
	case *element.ObjectType:
		fmt.Fprintf(w, "type %s {\n", name) //}
		for _, fn := range el.FieldNames() {
			f := el.Fields[fn]
			fmt.Fprintf(w, "  %s %s {}\n", f.TypeRef.GetFullName(), fn)
		}
		fmt.Fprintln(w, "}")
	case *element.InstanceElement:
		fmt.Fprintf(w, "%s %s {\n", el.TypeRef.GetFullName(), name) //}
		writeValue(indent.NewWriter(w, "  "), el.Value)
		fmt.Fprintln(w, "}")
	default:
		fmt.Fprintf(w, "%s\n", name)
	}
}

func writeValue(w io.Writer, v element.Value) {
	switch v.Kind() {
	case element.KindMap:
		m, _ := v.AsMap()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s = ", k)
			writeValue(w, m[k])
		}
	case element.KindList:
		items, _ := v.AsList()
		fmt.Fprintln(w, "[")
		for _, item := range items {
			writeValue(indent.NewWriter(w, "  "), item)
		}
		fmt.Fprintln(w, "]")
	default:
		fmt.Fprintln(w, v.String())
	}
}
