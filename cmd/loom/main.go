// cmd/loom — an interactive shell for poking at scoped bindings.
//
// Every `push` enters a real dynamic scope (the shell recurses into
// Bindings.Run) and every `pop` exits it, so shadowing, restoration,
// snapshots and spawning behave exactly as they do in library code. Not a
// scripting language; a demonstration and debugging surface.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/peterh/liner"

	"github.com/theRealAph/loom"
)

const (
	appName     = "loom"
	historyFile = ".loom_history"
)

var banner = fmt.Sprintf("loom %s scope shell\nCtrl+C cancels input, Ctrl+D exits. Type help for commands, :quit to exit.", loom.Version)

const helpText = `commands:
  key NAME TYPE [inherit]     create a key (TYPE: string|int|float|bool)
  push NAME=VALUE ...         enter a scope with the given bindings
  pop                         leave the current scope
  get NAME                    read a key (cache-first)
  bound NAME                  report whether a key is bound
  else NAME DEFAULT           read a key with a fallback
  keys                        list known keys
  snap NAME                   capture the inheritable bindings as NAME
  replay NAME                 enter a scope under snapshot NAME
  spawn NAME                  read NAME from a freshly spawned child context
  :quit                       exit
`

var (
	red   = color.New(color.FgRed).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	blue  = color.New(color.FgBlue).SprintFunc()
)

// errPop unwinds exactly one level of the recursive scope loop.
var errPop = errors.New("pop")

// errQuit unwinds the whole stack on :quit or EOF.
var errQuit = errors.New("quit")

type shell struct {
	ln    *liner.State
	ec    *loom.ExecContext
	keys  map[string]*loom.Key
	types map[string]string // key name -> declared TYPE word
	snaps map[string]*loom.Snapshot
}

func main() {
	fmt.Println(banner)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	sh := &shell{
		ln:    ln,
		ec:    loom.NewExecContext(),
		keys:  map[string]*loom.Key{},
		types: map[string]string{},
		snaps: map[string]*loom.Snapshot{},
	}
	if err := sh.loop(0); err != nil && err != errQuit {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}

// loop reads and runs commands at one scope depth. push and replay recurse,
// so the shell's call stack mirrors the binding stack exactly.
func (sh *shell) loop(depth int) error {
	prompt := "==> "
	if depth > 0 {
		prompt = fmt.Sprintf("[%d]> ", depth)
	}
	for {
		line, err := sh.ln.Prompt(prompt)
		if err == liner.ErrPromptAborted {
			fmt.Println()
			continue
		}
		if err != nil { // EOF
			fmt.Println()
			return errQuit
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sh.ln.AppendHistory(line)

		if err := sh.dispatch(depth, line); err != nil {
			if err == errPop || err == errQuit {
				return err
			}
			fmt.Fprintln(os.Stderr, red(err.Error()))
		}
	}
}

func (sh *shell) dispatch(depth int, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case ":quit", ":q":
		return errQuit
	case "help":
		fmt.Print(helpText)
		return nil
	case "key":
		return sh.cmdKey(args)
	case "push":
		return sh.cmdPush(depth, args)
	case "pop":
		if depth == 0 {
			return fmt.Errorf("already at the outermost scope")
		}
		return errPop
	case "get":
		return sh.cmdGet(args)
	case "bound":
		return sh.cmdBound(args)
	case "else":
		return sh.cmdElse(args)
	case "keys":
		for name, k := range sh.keys {
			fmt.Printf("  %s\t%s\n", name, blue(k.String()))
		}
		return nil
	case "snap":
		if len(args) != 1 {
			return fmt.Errorf("usage: snap NAME")
		}
		sh.snaps[args[0]] = sh.ec.Snapshot()
		fmt.Println(green("captured"))
		return nil
	case "replay":
		return sh.cmdReplay(depth, args)
	case "spawn":
		return sh.cmdSpawn(args)
	default:
		return fmt.Errorf("unknown command %q; type help", cmd)
	}
}

func (sh *shell) cmdKey(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: key NAME TYPE [inherit]")
	}
	name, tn := args[0], args[1]
	if _, dup := sh.keys[name]; dup {
		return fmt.Errorf("key %q already exists", name)
	}
	inherit := len(args) == 3 && args[2] == "inherit"

	t, err := typeFor(tn)
	if err != nil {
		return err
	}
	var k *loom.Key
	if inherit {
		k = loom.InheritableForType(t)
	} else {
		k = loom.ForType(t)
	}
	sh.keys[name] = k
	sh.types[name] = tn
	fmt.Println(blue(k.String()))
	return nil
}

func (sh *shell) cmdPush(depth int, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: push NAME=VALUE [NAME=VALUE ...]")
	}
	var b *loom.Bindings
	for _, pair := range args {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("malformed binding %q, want NAME=VALUE", pair)
		}
		k, found := sh.keys[name]
		if !found {
			return fmt.Errorf("no key named %q", name)
		}
		v, err := parseValue(sh.types[name], raw)
		if err != nil {
			return err
		}
		if b == nil {
			b = loom.Where(k, v)
		} else {
			b = b.Where(k, v)
		}
	}
	return b.Run(sh.ec, func() error {
		err := sh.loop(depth + 1)
		if err == errPop {
			return nil
		}
		return err
	})
}

func (sh *shell) cmdGet(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get NAME")
	}
	k, found := sh.keys[args[0]]
	if !found {
		return fmt.Errorf("no key named %q", args[0])
	}
	v, err := k.Get(sh.ec)
	if err != nil {
		return err
	}
	fmt.Println(blue(fmt.Sprintf("%v", v)))
	return nil
}

func (sh *shell) cmdBound(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: bound NAME")
	}
	k, found := sh.keys[args[0]]
	if !found {
		return fmt.Errorf("no key named %q", args[0])
	}
	fmt.Println(blue(strconv.FormatBool(k.IsBound(sh.ec))))
	return nil
}

func (sh *shell) cmdElse(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: else NAME DEFAULT")
	}
	k, found := sh.keys[args[0]]
	if !found {
		return fmt.Errorf("no key named %q", args[0])
	}
	def, err := parseValue(sh.types[args[0]], args[1])
	if err != nil {
		return err
	}
	fmt.Println(blue(fmt.Sprintf("%v", k.OrElse(sh.ec, def))))
	return nil
}

func (sh *shell) cmdReplay(depth int, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: replay NAME")
	}
	s, found := sh.snaps[args[0]]
	if !found {
		return fmt.Errorf("no snapshot named %q", args[0])
	}
	return s.Run(sh.ec, func() error {
		err := sh.loop(depth + 1)
		if err == errPop {
			return nil
		}
		return err
	})
}

func (sh *shell) cmdSpawn(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: spawn NAME")
	}
	k, found := sh.keys[args[0]]
	if !found {
		return fmt.Errorf("no key named %q", args[0])
	}
	err := sh.ec.Spawn(func(child *loom.ExecContext) error {
		v, err := k.Get(child)
		if err != nil {
			return err
		}
		fmt.Println(green(fmt.Sprintf("child saw %v", v)))
		return nil
	}).Join()
	return err
}

func typeFor(name string) (reflect.Type, error) {
	switch name {
	case "string":
		return reflect.TypeOf(""), nil
	case "int":
		return reflect.TypeOf(int(0)), nil
	case "float":
		return reflect.TypeOf(float64(0)), nil
	case "bool":
		return reflect.TypeOf(false), nil
	}
	return nil, fmt.Errorf("unknown type %q (want string|int|float|bool)", name)
}

func parseValue(typeName, raw string) (any, error) {
	switch typeName {
	case "string":
		return raw, nil
	case "int":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not an int", raw)
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a float", raw)
		}
		return f, nil
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a bool", raw)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown type %q", typeName)
}
