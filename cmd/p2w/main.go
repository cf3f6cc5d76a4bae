// The p2w command compiles a Python file to WebAssembly text.
//
// With a file argument, or -c, it compiles that program. With neither,
// it builds the entry module of the p2w.toml project enclosing the
// working directory; if there is none, it starts an interactive loop
// when standard input is a terminal, and otherwise compiles standard
// input.
package main // import "go.p2w.dev/cmd/p2w"

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/term"

	"go.p2w.dev"
	"go.p2w.dev/internal/config"
	"go.p2w.dev/internal/hostabi"
	"go.p2w.dev/repl"
)

var log = commonlog.GetLogger("p2w.cmd")

// flags
var (
	output     = flag.String("o", "", "write the module text to `file` (default: standard output)")
	manifest   = flag.String("manifest", "", "write the host manifest to `file`")
	artifact   = flag.String("artifact", "", "write the compiled artifact to `file`")
	exhaustive = flag.Bool("exhaustive", false, "require every match statement to be exhaustive")
	debug      = flag.Bool("debug", false, "annotate the module with source positions")
	module     = flag.String("module", "", "name of the generated module")
	verbosity  = flag.Int("v", 0, "log verbosity (0: errors, 1: info, 2: debug)")
	logfile    = flag.String("log", "", "write the log to `file`")
	execprog   = flag.String("c", "", "compile program `prog`")
	noconfig   = flag.Bool("noconfig", false, "ignore p2w.toml")
)

func main() {
	os.Exit(doMain())
}

func doMain() int {
	flag.Parse()

	cfg := config.Default()
	if !*noconfig {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "p2w:", err)
			return 1
		}
		found, err := config.FindAndLoad(wd)
		if err != nil {
			fmt.Fprintln(os.Stderr, "p2w:", err)
			return 1
		}
		if found != nil {
			cfg = found
		}
	}
	applyFlags(cfg)

	var path *string
	if cfg.Log.File != "" {
		p := cfg.Path(cfg.Log.File)
		path = &p
	}
	commonlog.Configure(cfg.Log.Verbosity, path)
	if cfg.Dir != "" {
		log.Infof("project %s", filepath.Join(cfg.Dir, config.FileName))
	}

	opts := &p2w.Options{
		ExhaustiveMatch: cfg.Compile.ExhaustiveMatch,
		Debug:           cfg.Compile.Debug,
		Module:          *module,
	}

	var (
		filename string
		src      interface{}
	)
	switch {
	case *execprog != "":
		filename, src = "cmdline", *execprog
	case flag.NArg() == 1:
		filename = flag.Arg(0)
	case flag.NArg() > 1:
		fmt.Fprintln(os.Stderr, "p2w: want at most one Python file name")
		return 1
	case cfg.Dir != "":
		filename = cfg.Path(cfg.Build.Entry)
	case term.IsTerminal(int(os.Stdin.Fd())):
		fmt.Println("p2w: enter statements; :wat shows the module, :run runs it")
		repl.REPL(*opts)
		return 0
	default:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, "p2w:", err)
			return 1
		}
		filename, src = "<stdin>", data
	}

	prog, err := p2w.CompileFile(filename, src, opts)
	if err != nil {
		repl.PrintError(err)
		return 1
	}
	if err := write(cfg, prog); err != nil {
		fmt.Fprintln(os.Stderr, "p2w:", err)
		return 1
	}
	return 0
}

// applyFlags overrides the configuration with the flags that were set.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "o":
			cfg.Build.Output = *output
		case "manifest":
			cfg.Build.Manifest = *manifest
		case "artifact":
			cfg.Build.Artifact = *artifact
		case "exhaustive":
			cfg.Compile.ExhaustiveMatch = *exhaustive
		case "debug":
			cfg.Compile.Debug = *debug
		case "v":
			cfg.Log.Verbosity = *verbosity
		case "log":
			cfg.Log.File = *logfile
		}
	})
}

// write writes the outputs that cfg names. Paths from flags are
// relative to the working directory, since applyFlags stores them
// as given, and those from the file to its directory.
func write(cfg *config.Config, prog *p2w.Program) error {
	if out := cfg.Build.Output; out != "" {
		if err := writeFile(pathOf(cfg, out, "o"), []byte(prog.WAT)); err != nil {
			return err
		}
	} else {
		fmt.Print(prog.WAT)
	}
	if m := cfg.Build.Manifest; m != "" {
		data, err := hostabi.ManifestJSON(prog.Module, prog.Exports)
		if err != nil {
			return err
		}
		if err := writeFile(pathOf(cfg, m, "manifest"), data); err != nil {
			return err
		}
	}
	if a := cfg.Build.Artifact; a != "" {
		data, err := prog.Encode()
		if err != nil {
			return err
		}
		if err := writeFile(pathOf(cfg, a, "artifact"), data); err != nil {
			return err
		}
	}
	return nil
}

func pathOf(cfg *config.Config, p, flagName string) string {
	set := false
	flag.Visit(func(f *flag.Flag) { set = set || f.Name == flagName })
	if set {
		return p
	}
	return cfg.Path(p)
}

func writeFile(name string, data []byte) error {
	if dir := filepath.Dir(name); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	log.Infof("wrote %s (%d bytes)", name, len(data))
	return nil
}
