// Package repl provides an interactive compile-and-show loop.
//
// It supports readline-style command editing, and interrupts through
// Control-C.
//
// Each input is a compound statement or a command. A statement is
// appended to the session's program, which is then compiled as a
// whole; a statement that makes the program fail to compile is
// reported and dropped. Commands start with a colon:
//
//	:wat    print the module of the program
//	:run    run the program, if wasm-tools and node are installed
//	:src    print the program
//	:reset  forget the program
package repl // import "go.p2w.dev/repl"

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/chzyer/readline"
	"github.com/tliron/commonlog"

	"go.p2w.dev"
	"go.p2w.dev/internal/diag"
	"go.p2w.dev/p2wtest"
	"go.p2w.dev/syntax"
)

var log = commonlog.GetLogger("p2w.repl")

var interrupted = make(chan os.Signal, 1)

// A Session is the program entered so far.
type Session struct {
	Options p2w.Options
	src     []string
	prog    *p2w.Program
}

// Add appends a statement to the program. If the program no longer
// compiles, Add leaves the session unchanged and returns the errors.
func (s *Session) Add(stmt string) error {
	src := strings.Join(append(s.src[:len(s.src):len(s.src)], stmt), "")
	opts := s.Options
	prog, err := p2w.CompileFile("<stdin>", src, &opts)
	if err != nil {
		return err
	}
	s.src = append(s.src, stmt)
	s.prog = prog
	return nil
}

// Source returns the program.
func (s *Session) Source() string { return strings.Join(s.src, "") }

// Program returns the compiled program, or nil before the first
// statement.
func (s *Session) Program() *p2w.Program { return s.prog }

// Reset forgets the program.
func (s *Session) Reset() { s.src, s.prog = nil, nil }

// REPL runs the loop until end of input.
func REPL(opts p2w.Options) {
	signal.Notify(interrupted, os.Interrupt)
	defer signal.Stop(interrupted)

	rl, err := readline.New(">>> ")
	if err != nil {
		PrintError(err)
		return
	}
	defer rl.Close()
	s := &Session{Options: opts}
	for {
		if err := rep(rl, s); err != nil {
			if err == readline.ErrInterrupt {
				fmt.Println(err)
				continue
			}
			break
		}
	}
	fmt.Println()
}

// rep reads and handles one item.
//
// It returns an error (possibly readline.ErrInterrupt) only if
// readline failed. Compile errors are printed.
func rep(rl *readline.Instance, s *Session) error {
	rl.SetPrompt(">>> ")
	line, err := rl.Readline()
	if err != nil {
		return err
	}
	if cmd := strings.TrimSpace(line); strings.HasPrefix(cmd, ":") {
		command(s, cmd)
		return nil
	}

	// The parser reads the first line again, then the rest of the
	// statement. readline returns EOF, ErrInterrupted, or a line
	// including "\n".
	eof := false
	pending := []byte(line + "\n")
	var text strings.Builder
	readline := func() ([]byte, error) {
		if pending != nil {
			next := pending
			pending = nil
			rl.SetPrompt("... ")
			text.Write(next)
			return next, nil
		}
		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF {
				eof = true
			}
			return nil, err
		}
		text.WriteString(line + "\n")
		return []byte(line + "\n"), nil
	}
	if _, err := syntax.ParseCompoundStmt("<stdin>", readline); err != nil {
		if eof {
			return io.EOF
		}
		PrintError(err)
		return nil
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil
	}
	if err := s.Add(text.String()); err != nil {
		PrintError(err)
		return nil
	}
	log.Debugf("session program: %d bytes of module text", len(s.prog.WAT))
	return nil
}

func command(s *Session, cmd string) {
	switch cmd {
	case ":wat":
		if s.Program() == nil {
			fmt.Println("(no program)")
			return
		}
		fmt.Print(s.Program().WAT)
	case ":src":
		fmt.Print(s.Source())
	case ":reset":
		s.Reset()
	case ":run":
		if s.Program() == nil {
			fmt.Println("(no program)")
			return
		}
		if err := run(s.Program()); err != nil {
			PrintError(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s (want :wat, :run, :src or :reset)\n", cmd)
	}
}

// run executes prog with the external engine. Control-C cancels it.
func run(prog *p2w.Program) error {
	engine, err := p2wtest.FindEngine()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-interrupted:
			cancel()
		case <-ctx.Done():
		}
	}()
	res, err := engine.Run(ctx, prog.WAT)
	if err != nil {
		return err
	}
	fmt.Print(res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)
	return nil
}

// PrintError prints the error to stderr, one line per compile error.
func PrintError(err error) {
	if errs, ok := err.(diag.ErrorList); ok {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "%s: %s\n", e.Kind, e)
		}
		return
	}
	fmt.Fprintln(os.Stderr, err)
}
