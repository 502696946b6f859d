package cmd

import (
	"fmt"
	"runtime"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/pacbio/encoding/pbi"
	"v.io/x/lib/cmdline"
)

func newCmdIndex() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "index",
		Short:    "Build the .pbi index of BAM files",
		ArgsName: "bampath...",
	}
	opts := indexOpts{}
	cmd.Flags.IntVar(&opts.parallelism, "parallelism", runtime.NumCPU(), "Number of files indexed concurrently")
	cmd.Flags.BoolVar(&opts.force, "force", false, "Rebuild indexes that are newer than their BAM file")
	cmd.Flags.IntVar(&opts.builder.SpillRows, "spill-rows", 0, `If positive, keep at most this many values of each index column
in memory, and spill the rest to temporary files`)
	cmd.Flags.StringVar(&opts.builder.TmpDir, "tmp-dir", "", "Directory of spill files. Defaults to the system temp dir")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 {
			return fmt.Errorf("index takes one or more BAM paths")
		}
		return index(argv, opts)
	})
	return cmd
}

func newCmdView() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "view",
		Short:    "Print the records of BAM files selected through their .pbi indexes",
		ArgsName: "bampath...",
	}
	opts := viewOpts{}
	cmd.Flags.StringVar(&opts.filter, "filter", "", filterHelp)
	cmd.Flags.StringVar(&opts.region, "region", "", `Show only records overlapping a region, 'chr', 'chr:begin' or 'chr:begin-end'.
begin and end are 1-based and inclusive, as in samtools.`)
	cmd.Flags.StringVar(&opts.order, "order", "none", `Order of records of multiple files: one of
"none" (file by file), "qname" (by record name) or "position" (by alignment).
Each file must already be in that order.`)
	cmd.Flags.StringVar(&opts.index, "index", "", "Index filename, for a single input. Defaults to bampath + .pbi")
	cmd.Flags.BoolVar(&opts.autoBuild, "auto-build", false, "Build missing or stale indexes before reading")
	cmd.Flags.BoolVar(&opts.withHeader, "with-header", false, "Print the header of the first file before the records")
	cmd.Flags.BoolVar(&opts.byZmw, "by-zmw", false, "Print a '# movie/zmw count' line before the records of each ZMW")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 {
			return fmt.Errorf("view takes one or more BAM paths")
		}
		return view(env.Stdout, argv, opts)
	})
	return cmd
}

func newCmdStats() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "stats",
		Short:    "Print a summary of a .pbi file",
		ArgsName: "pbipath",
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("stats takes one pathname argument, but got %v", argv)
		}
		return stats(env.Stdout, argv[0])
	})
	return cmd
}

func newCmdChecksum() *cmdline.Command {
	cmd := &cmdline.Command{
		Name: "checksum",
		Short: `Compute a checksum of a .pbi file.
The checksum is a JSON string with a seahash digest of every column`,
		ArgsName: "pbipath",
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("checksum takes one pathname argument, but got %v", argv)
		}
		return checksum(env.Stdout, argv[0])
	})
	return cmd
}

func newRoot() *cmdline.Command {
	return &cmdline.Command{
		Name:     "bio-pbitool",
		Short:    "Tools for working with PacBio BAM indexes",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdIndex(),
			newCmdView(),
			newCmdStats(),
			newCmdChecksum(),
		},
	}
}

var filterHelp = "Select records with a filter expression.\n\n" + pbi.PropertyHelp

// Run runs the command line args and returns the exit code.
func Run(args []string) int {
	shutdown := grail.Init()
	defer shutdown()
	cmdline.HideGlobalFlagsExcept()
	env := cmdline.EnvFromOS()
	return cmdline.ExitCode(cmdline.ParseAndRun(newRoot(), env, args), env.Stderr)
}
