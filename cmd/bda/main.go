// cmd/bda is the CLI entrypoint of spec.md §6: a flag-based stand-in
// for a disassembler product's plugin shell, built as a Cobra command
// tree (`bda run`, `bda version`) per SPEC_FULL.md §2/§10 rather than
// a bare flag.Parse() shell. Grounded in ja7ad-consumption's
// cmd/consumption/main.go for the overall cobra.Command + pflag-bound
// options shape, generalized from one monitoring command to two
// subcommands sharing config's option table.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rot127/bda-go/bdalog"
	"github.com/rot127/bda-go/bdastate"
	"github.com/rot127/bda-go/config"
	"github.com/rot127/bda-go/disasm"
	"github.com/rot127/bda-go/driver"
)

// version is the CLI's own release string, bumped by hand like the
// teacher's binaries (no embedded VCS metadata or build-info library
// is part of the pack's dependency surface).
const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "bda",
		Short: "Binary-level Dependency Analysis",
		Long: `bda discovers memory-access dependencies between machine instructions of
a stripped binary by sampling weighted acyclic paths through an
inter-procedural control-flow graph, abstractly interpreting each path
over a symbolic memory model, and running a posterior worklist dataflow
pass over the accumulated memory-operation sequences.`,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the bda version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <bundle.yaml>",
		Short: "run BDA against a disassembler bundle",
		Args:  cobra.ExactArgs(1),
	}
	raw := config.BindFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts, err := config.Parse(cmd.Flags(), raw)
		if err != nil {
			return err
		}
		return runBDA(cmd, args[0], opts)
	}
	return cmd
}

func runBDA(cmd *cobra.Command, bundlePath string, opts config.Options) error {
	f, ic, wmap, err := disasm.LoadBundle(bundlePath)
	if err != nil {
		return err
	}

	log := bdalog.Default()
	d := driver.New(ic, f, wmap, opts, log, bdalog.LogNotifier{Log: log})
	d.Confirm = confirmPrompt(cmd)

	var spinner *bdalog.Spinner
	if bdalog.IsTerminal(os.Stderr) {
		spinner = bdalog.NewSpinner(os.Stderr, true)
		d.OnStats = func(s bdastate.Stats) { spinner.Update(s.StatusLine()) }
	}

	res, err := d.Run(cmd.Context())
	if spinner != nil {
		spinner.Done()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, pair := range res.DIP.Sorted() {
		fmt.Fprintf(out, "%#x %#x\n", pair.From, pair.To)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), res.Stats.StatusLine())
	fmt.Fprintf(cmd.ErrOrStderr(), "lazy_factor=%.4f\n", res.LazyFactor)
	return nil
}

// confirmPrompt builds the interactive y/n hook spec.md §4.7's missing-
// malloc check uses, skipped entirely under --skip_questions (checked
// inside Driver.checkMalloc, not here).
func confirmPrompt(cmd *cobra.Command) func(string) bool {
	return func(prompt string) bool {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N] ", prompt)
		reader := bufio.NewReader(cmd.InOrStdin())
		line, _ := reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}
