// Command betree runs a single operation against a tree file.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	betree "github.com/orac/be-tree"
	"github.com/orac/be-tree/logger"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "betree: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, `betree - B-epsilon tree key/value store

Usage:
  betree -db <path> [options] <command> [args]

Commands:
  put <key> <value>      Insert or replace a value
  get <key>              Print a value
  del <key>              Delete a key
  add <key> <delta>      Add to a big-endian int64 value, starting from delta
  append <key> <suffix>  Append to a value, starting from suffix
  flush                  Push every buffered message down to the leaves
  stats                  Print tree statistics
  verify                 Check structural invariants

Options:`)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

// run parses args and executes one command, writing results to out
func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("betree", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("db", "", "Tree file (required)")
	leaf := fs.Int("leaf", 64, "Max entries per leaf")
	buffer := fs.Int("buffer", 64, "Max buffered messages per branch")
	fanout := fs.Int("fanout", 16, "Max children per branch")
	pageSize := fs.Int("page", 64*1024, "Page size, fixed when the file is created")
	useMMap := fs.Bool("mmap", false, "Use memory-mapped I/O")
	noSync := fs.Bool("nosync", false, "Skip fsync on commit")
	asInt := fs.Bool("int", false, "Print values as big-endian int64")
	verbose := fs.Bool("v", false, "Log tree events to stderr")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, fs)
			return nil
		}
		return err
	}
	if *path == "" || fs.NArg() == 0 {
		printUsage(out, fs)
		return errors.New("-db and a command are required")
	}

	options := []betree.Option{
		betree.WithLeafCapacity(*leaf),
		betree.WithBufferCapacity(*buffer),
		betree.WithFanout(*fanout),
		betree.WithPageSize(*pageSize),
	}
	if *useMMap {
		options = append(options, betree.WithMMap())
	}
	if *noSync {
		options = append(options, betree.WithSyncOff())
	}
	if *verbose {
		zapLogger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = zapLogger.Sync() }()
		options = append(options, betree.WithLogger(logger.NewZap(zapLogger)))
	}

	tree, err := betree.Open(*path, options...)
	if err != nil {
		return err
	}
	defer tree.Close()

	command, rest := fs.Arg(0), fs.Args()[1:]
	if err := execute(tree, command, rest, out, *asInt); err != nil {
		return err
	}
	return tree.Close()
}

func expect(command string, args []string, n int) error {
	if len(args) != n {
		return errors.Newf("%s takes %d argument(s), got %d", command, n, len(args))
	}
	return nil
}

func execute(tree *betree.Tree, command string, args []string, out io.Writer, asInt bool) error {
	switch command {
	case "put":
		if err := expect(command, args, 2); err != nil {
			return err
		}
		return tree.Insert([]byte(args[0]), []byte(args[1]))

	case "get":
		if err := expect(command, args, 1); err != nil {
			return err
		}
		value, err := tree.Get([]byte(args[0]))
		if err != nil {
			return err
		}
		if asInt {
			n, err := betree.DecodeInt64(value)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, n)
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", value)
		return err

	case "del":
		if err := expect(command, args, 1); err != nil {
			return err
		}
		return tree.Delete([]byte(args[0]))

	case "add":
		if err := expect(command, args, 2); err != nil {
			return err
		}
		delta, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return errors.Wrap(err, "delta")
		}
		operand := betree.EncodeInt64(delta)
		return tree.Upsert([]byte(args[0]), betree.CombinatorAdd, operand, operand)

	case "append":
		if err := expect(command, args, 2); err != nil {
			return err
		}
		return tree.Upsert([]byte(args[0]), betree.CombinatorAppend, []byte(args[1]), []byte(args[1]))

	case "flush":
		return tree.FlushAll()

	case "stats":
		stats, err := tree.Stats()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%+v\n", stats)
		return err

	case "verify":
		if err := tree.Verify(); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, "ok")
		return err

	default:
		return errors.Newf("unknown command %q", command)
	}
}
