//go:build ignore

// The update command regenerates docs/host.md, the reference of the
// host contract that compiled modules import, and docs/host.json, its
// machine-readable manifest.
//
// Usage:
//
//	$ cd path/to/go.p2w.dev
//	$ go run docs/update.go
package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.p2w.dev/internal/hostabi"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("update: ")

	if _, err := os.Stat(filepath.Join("internal", "hostabi")); err != nil {
		log.Fatalf("must run from the module root directory")
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "# Host contract `%s`\n\n", hostabi.Version)
	b.WriteString("Generated by `go run docs/update.go`; do not edit.\n")
	module := ""
	for _, f := range hostabi.Imports {
		if f.Module != module {
			module = f.Module
			fmt.Fprintf(&b, "\n## Module `%s`\n\n| function | params | results | |\n|---|---|---|---|\n", module)
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n", f.Name, strings.Join(f.Params, " "), strings.Join(f.Results, " "), f.Doc)
	}

	b.WriteString("\n## Handles\n\n")
	names := make([]string, 0, len(hostabi.Handles))
	for name := range hostabi.Handles {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return hostabi.Handles[names[i]] < hostabi.Handles[names[j]] })
	for _, name := range names {
		fmt.Fprintf(&b, "- %d: `js.%s`\n", hostabi.Handles[name], name)
	}
	fmt.Fprintf(&b, "\n## Math functions\n\n`env.math1` numbers: %s.\n", strings.Join(hostabi.MathOps, ", "))
	fmt.Fprintf(&b, "\n## Exports\n\n`%s`, `%s`, `%s`.\n", hostabi.Start, hostabi.Memory, hostabi.EventCallback)
	write(filepath.Join("docs", "host.md"), b.Bytes())

	manifest, err := hostabi.ManifestJSON("", []string{hostabi.Start, hostabi.Memory, hostabi.EventCallback})
	if err != nil {
		log.Fatal(err)
	}
	write(filepath.Join("docs", "host.json"), manifest)
}

func write(name string, data []byte) {
	if old, err := os.ReadFile(name); err == nil && bytes.Equal(old, data) {
		return
	}
	if err := os.WriteFile(name, data, 0666); err != nil {
		log.Fatal(err)
	}
	log.Printf("updated %s", name)
}
