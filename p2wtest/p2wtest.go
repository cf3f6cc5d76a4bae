// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package p2wtest defines utilities for testing the compiler: locating
// test data, and running compiled modules under an external WebAssembly
// engine when one is installed.
package p2wtest // import "go.p2w.dev/p2wtest"

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// DataFile returns the effective filename of the specified
// test data resource. pkgdir is relative to the module root.
var DataFile = func(pkgdir, filename string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filepath.Dir(file)), pkgdir, filename)
}

//go:embed host.mjs
var hostJS []byte

// Engine locates the external tools that run compiled modules:
// wasm-tools to assemble the text and node to execute it.
type Engine struct {
	WasmTools string
	Node      string
}

// FindEngine returns the engine on PATH, or an error naming the
// missing tool.
func FindEngine() (*Engine, error) {
	wt, err := exec.LookPath("wasm-tools")
	if err != nil {
		return nil, fmt.Errorf("wasm-tools not found: %w", err)
	}
	node, err := exec.LookPath("node")
	if err != nil {
		return nil, fmt.Errorf("node not found: %w", err)
	}
	return &Engine{WasmTools: wt, Node: node}, nil
}

// RequireEngine returns the engine, skipping the test if there is none.
func RequireEngine(t testing.TB) *Engine {
	t.Helper()
	e, err := FindEngine()
	if err != nil {
		t.Skip(err)
	}
	return e
}

// A Result is the outcome of running a module.
type Result struct {
	Stdout, Stderr string
	Uncaught       bool // _start ended with an exception
}

// Run assembles and runs the module text wat in a fresh temporary
// directory, implementing the host contract with a loader script.
func (e *Engine) Run(ctx context.Context, wat string) (*Result, error) {
	dir, err := os.MkdirTemp("", "p2wtest")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "module.wat")
	bin := filepath.Join(dir, "module.wasm")
	host := filepath.Join(dir, "host.mjs")
	if err := os.WriteFile(src, []byte(wat), 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(host, hostJS, 0o644); err != nil {
		return nil, err
	}
	if out, err := exec.CommandContext(ctx, e.WasmTools, "parse", src, "-o", bin).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("wasm-tools parse: %v\n%s", err, out)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Node, host, bin)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	err = cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exit *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exit) && exit.ExitCode() == 1:
		res.Uncaught = true
	default:
		return nil, fmt.Errorf("node: %v\n%s", err, res.Stderr)
	}
	return res, nil
}
