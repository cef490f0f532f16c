/*
	Timelinize
	Copyright (c) 2013 Matthew Holt

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package photocmd implements the command line interface
// and the program's main().
package photocmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/timelinize/photocatalog/catalog"
	"go.uber.org/zap"
)

var (
	configFile = DefaultConfigFilePath()
	verbose    bool
)

// Main runs the program with the process's arguments.
func Main() {
	flag.StringVar(&configFile, "config", configFile, "Path to the config file")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
	flag.Parse()

	catalog.SetVerbose(verbose)

	cfg, err := LoadConfig(configFile)
	if err != nil {
		catalog.Log.Fatal("failed loading config", zap.String("path", configFile), zap.Error(err))
	}

	ctx, cancel := trapSignals(context.Background())

	err = Run(ctx, cfg, flag.Args(), os.Stdout)
	cancel()
	if err != nil {
		catalog.Log.Fatal("subcommand failed",
			zap.String("subcommand", flag.Arg(0)),
			zap.Error(err))
	}
}

// command is a CLI subcommand.
type command struct {
	usage string
	help  string
	run   func(ctx context.Context, cfg *Config, args []string, out io.Writer) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"import": {
			usage: "import [-source media] [-format auto] [-library ID] [-owner ID] [-fingerprints keep|skip|adopt] [-lists merge|replace] <path>",
			help:  "Imports photos from a folder, archive, or export file.",
			run:   cmdImport,
		},
		"geocode": {
			usage: "geocode [-library ID] [-limit N] [-dry-run]",
			help:  "Resolves places for photos with coordinates but no place.",
			run:   cmdGeocode,
		},
		"summaries": {
			usage: "summaries [-rebuild]",
			help:  "Updates per-place photo summaries.",
			run:   cmdSummaries,
		},
		"places": {
			usage: "places [-country NAME] [-state NAME] [-limit N] [-offset N]",
			help:  "Lists place summaries.",
			run:   cmdPlaces,
		},
		"tasks": {
			usage: "tasks [list [-status S] [-name N] [-limit N] | show <id> | abandon <id>]",
			help:  "Lists, shows, or abandons background tasks.",
			run:   cmdTasks,
		},
		"parse": {
			usage: "parse [-format auto] <file>...",
			help:  "Prints the canonical metadata of each record in export documents.",
			run:   cmdParse,
		},
		"compare": {
			usage: "compare [-format auto] <file-a> <file-b>",
			help:  "Prints the differences between the first records of two documents.",
			run:   cmdCompare,
		},
		"help": {
			usage: "help",
			help:  "Prints this help.",
			run:   cmdHelp,
		},
	}
}

// Run runs the subcommand named by args[0] with the rest of args.
func Run(ctx context.Context, cfg *Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		args = []string{"help"}
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown subcommand: %s (try 'help')", args[0])
	}
	return cmd.run(ctx, cfg, args[1:], out)
}

func cmdHelp(_ context.Context, _ *Config, _ []string, out io.Writer) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("usage: photocatalog [-config FILE] [-v] <subcommand> [args]\n\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "  %s\n    \t%s\n", commands[name].usage, commands[name].help)
	}
	_, err := io.WriteString(out, sb.String())
	return err
}

// openCatalog opens the configured repository, making sure the
// default owner and library exist if they are configured.
func openCatalog(ctx context.Context, cfg *Config) (*catalog.Catalog, error) {
	c, err := catalog.Open(ctx, cfg.Repo, catalog.Options{})
	if err != nil {
		return nil, err
	}
	if cfg.DefaultOwner != "" {
		if err := c.AddOwner(ctx, cfg.DefaultOwner, ""); err != nil {
			c.Close()
			return nil, err
		}
	}
	if cfg.DefaultLibrary != "" {
		if err := c.AddLibrary(ctx, cfg.DefaultLibrary, "", cfg.DefaultOwner); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// printJSON writes v to out as indented JSON.
func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "\t")
	return enc.Encode(v)
}

// finishTask prints the task and turns a failed task into an error.
func finishTask(out io.Writer, task catalog.Task, err error) error {
	if err != nil {
		return err
	}
	if err := printJSON(out, task); err != nil {
		return err
	}
	if task.Status == catalog.TaskFailed {
		msg := "unknown error"
		if task.Error != nil {
			msg = *task.Error
		}
		return fmt.Errorf("task %d failed: %s", task.ID, msg)
	}
	return nil
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string) *flag.FlagSet {
	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	fset.SetOutput(os.Stderr)
	return fset
}

var errUsage = errors.New("wrong number of arguments")
