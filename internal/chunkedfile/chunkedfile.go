// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chunkedfile provides utilities for testing that compile
// errors are reported in the appropriate places.
//
// A chunked file consists of several chunks of input text separated by
// "---" lines. Each chunk is an input to the program under test, such
// as the parser or the whole compiler. Lines containing "###" are
// interpreted as expectations of failure: the following text is an
// optional error category in brackets and a Go string literal denoting
// a regular expression that should match the failure message.
//
// Example:
//
//	x = y ### [UnboundNameError] "undefined: y"
//	---
//	def f():
//	    yield 1
//	g = lambda: (yield) ### "yield"
//
// A client test feeds each chunk of text into the program under test,
// then calls chunk.GotError (or GotKindError) for each error that
// actually occurred. Any discrepancy between the actual and expected
// errors is reported using the client's reporter, which is typically
// a testing.T.
package chunkedfile // import "go.p2w.dev/internal/chunkedfile"

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const debug = false

// A Chunk is a portion of a source file.
// It contains a set of expected errors.
type Chunk struct {
	Source   string
	Line     int // line of the first line of the chunk in the file
	filename string
	report   Reporter
	wantErrs map[int]want
}

type want struct {
	kind string // empty: any category
	rx   *regexp.Regexp
}

// Reporter is implemented by *testing.T.
type Reporter interface {
	Errorf(format string, args ...interface{})
}

var categoryRE = regexp.MustCompile(`^\[([A-Za-z]+)\]\s*`)

// Read parses a chunked file and returns its chunks.
// It reports failures using the reporter.
//
// Error messages of the form "file.py:line:col: ..." are prefixed
// by a newline so that the Go source position added by (*testing.T).Errorf
// appears on a separate line so as not to confuse editors.
func Read(filename string, report Reporter) (chunks []Chunk) {
	data, err := os.ReadFile(filename)
	if err != nil {
		report.Errorf("%s", err)
		return
	}
	return readBytes(filename, data, report)
}

func readBytes(filename string, data []byte, report Reporter) (chunks []Chunk) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	linenum := 1

	for i, chunk := range strings.Split(text, "\n---\n") {
		if debug {
			fmt.Printf("chunk %d at line %d: %s\n", i, linenum, chunk)
		}
		// Pad with newlines so the line numbers match the original file.
		src := strings.Repeat("\n", linenum-1) + chunk
		first := linenum

		wantErrs := make(map[int]want)

		// Parse comments of the form:
		// ### [Category] "expected error".
		lines := strings.Split(chunk, "\n")
		for j := 0; j < len(lines); j, linenum = j+1, linenum+1 {
			line := lines[j]
			hashes := strings.Index(line, "###")
			if hashes < 0 {
				continue
			}
			rest := strings.TrimSpace(line[hashes+len("###"):])
			var w want
			if m := categoryRE.FindStringSubmatch(rest); m != nil {
				w.kind = m[1]
				rest = rest[len(m[0]):]
			}
			pattern, err := strconv.Unquote(rest)
			if err != nil {
				report.Errorf("\n%s:%d: not a quoted regexp: %s", filename, linenum, rest)
				continue
			}
			w.rx, err = regexp.Compile(pattern)
			if err != nil {
				report.Errorf("\n%s:%d: %v", filename, linenum, err)
				continue
			}
			wantErrs[linenum] = w
			if debug {
				fmt.Printf("\t%d\t%s %s\n", linenum, w.kind, w.rx)
			}
		}
		linenum++

		chunks = append(chunks, Chunk{src, first, filename, report, wantErrs})
	}
	return chunks
}

// GotError should be called by the client to report an error at a particular line.
// GotError reports unexpected errors to the chunk's reporter.
func (chunk *Chunk) GotError(linenum int, msg string) {
	chunk.GotKindError(linenum, "", msg)
}

// GotKindError is like GotError but also checks the error's category
// against the expectation, if the expectation names one.
func (chunk *Chunk) GotKindError(linenum int, kind, msg string) {
	w, ok := chunk.wantErrs[linenum]
	if !ok {
		chunk.report.Errorf("\n%s:%d: unexpected error: %v", chunk.filename, linenum, msg)
		return
	}
	delete(chunk.wantErrs, linenum)
	if !w.rx.MatchString(msg) {
		chunk.report.Errorf("\n%s:%d: error %q does not match pattern %q", chunk.filename, linenum, msg, w.rx)
	}
	if w.kind != "" && kind != w.kind {
		chunk.report.Errorf("\n%s:%d: got %s, want %s", chunk.filename, linenum, kind, w.kind)
	}
}

// Done should be called by the client to indicate that the chunk has no more errors.
// Done reports expected errors that did not occur to the chunk's reporter.
func (chunk *Chunk) Done() {
	for linenum, w := range chunk.wantErrs {
		chunk.report.Errorf("\n%s:%d: expected error matching %q", chunk.filename, linenum, w.rx)
	}
}
