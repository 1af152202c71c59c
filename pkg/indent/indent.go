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

// Package indent provides helpers to prefix every line of a block of
// text, used by cmd/saltoctl's element and error formatters to nest
// output the way a tree or grouped-error listing should read.
package indent

import "io"

// String returns in with prefix inserted at the start of every line,
// except a line that is only the empty tail after a final "\n".
func String(prefix, in string) string {
	return string(Bytes([]byte(prefix), []byte(in)))
}

// Bytes is the []byte equivalent of String.
func Bytes(prefix, in []byte) []byte {
	if len(in) == 0 {
		return in
	}
	out := make([]byte, 0, len(in)+len(prefix)*8)
	out = append(out, prefix...)
	for i, b := range in {
		out = append(out, b)
		if b == '\n' && i != len(in)-1 {
			out = append(out, prefix...)
		}
	}
	return out
}

// Writer indents every line written through it with a fixed prefix.
type Writer struct {
	w       io.Writer
	prefix  []byte
	atStart bool
}

// NewWriter returns a Writer that inserts prefix at the start of every
// line written to w.
func NewWriter(w io.Writer, prefix string) *Writer {
	return &Writer{w: w, prefix: []byte(prefix), atStart: true}
}

// Write implements io.Writer. On a short or failing underlying write it
// reports how many bytes of p were fully covered by the bytes the
// underlying writer actually accepted, not a raw byte count of the
// prefixed buffer — callers size retries off p, not off our prefixing.
func (iw *Writer) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+len(iw.prefix)*4)
	isContent := make([]bool, 0, cap(out))
	atStart := iw.atStart
	for _, b := range p {
		if atStart {
			out = append(out, iw.prefix...)
			for range iw.prefix {
				isContent = append(isContent, false)
			}
			atStart = false
		}
		out = append(out, b)
		isContent = append(isContent, true)
		if b == '\n' {
			atStart = true
		}
	}

	n, err := iw.w.Write(out)
	if n >= len(out) {
		iw.atStart = atStart
		return len(p), err
	}
	if n < 0 {
		n = 0
	}
	written := 0
	for i := 0; i < n; i++ {
		if isContent[i] {
			written++
		}
	}
	if err == nil {
		err = io.ErrShortWrite
	}
	return written, err
}
