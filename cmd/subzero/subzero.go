// Command subzero translates a PNaCl bitcode file into ARM32 assembly or a
// relocatable object.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"sigs.k8s.io/yaml"

	"github.com/tetratelabs/subzero"
)

func main() {
	doMain(os.Args[1:], os.Stdout, os.Stderr, os.Exit)
}

// fileOptions mirrors the command-line flags other than -v and -config; a
// YAML config file may set any of them, with flags taking precedence.
type fileOptions struct {
	Target    string `json:"target,omitempty"`
	Filetype  string `json:"filetype,omitempty"`
	Output    string `json:"output,omitempty"`
	FailFast  *bool  `json:"failFast,omitempty"`
	Workers   int    `json:"workers,omitempty"`
	TimeFuncs *bool  `json:"timeFuncs,omitempty"`
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut io.Writer, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("subzero", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "print usage")
	target := flags.String("target", "arm32", "translation target")
	filetype := flags.String("filetype", "asm", "output format: asm or elf")
	output := flags.String("o", "-", "output path, - for stdout")
	failFast := flags.Bool("fail-fast", false, "abort on the first error instead of recovering")
	workers := flags.Int("workers", 1, "number of translation worker threads")
	verbose := flags.Bool("v", false, "verbose tracing")
	timeFuncs := flags.Bool("time-funcs", false, "log per-function translation time")
	configPath := flags.String("config", "", "YAML file with translation options")

	if err := flags.Parse(args); err != nil {
		exit(1)
		return
	}
	if help || flags.NArg() == 0 {
		printUsage(stdErr, flags)
		if help {
			exit(0)
		} else {
			exit(1)
		}
		return
	}

	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintf(stdErr, "error reading config %s: %v\n", *configPath, err)
			exit(1)
			return
		}
		var opts fileOptions
		if err := yaml.Unmarshal(raw, &opts); err != nil {
			fmt.Fprintf(stdErr, "error parsing config %s: %v\n", *configPath, err)
			exit(1)
			return
		}
		applyFileOptions(flags, &opts, target, filetype, output, failFast, workers, timeFuncs)
	}

	inputPath := flags.Arg(0)
	input, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(stdErr, "error reading '%s': %v\n", inputPath, err)
		exit(1)
		return
	}

	log := logr.Discard()
	if *verbose {
		log = funcr.New(func(prefix, args string) {
			fmt.Fprintln(stdErr, prefix, args)
		}, funcr.Options{Verbosity: 1})
	}

	cfg := subzero.NewConfig().
		WithTarget(*target).
		WithFailFast(*failFast).
		WithWorkers(*workers).
		WithTimeFunctions(*timeFuncs).
		WithLogger(log)
	switch *filetype {
	case "asm":
		cfg = cfg.WithOutputFormat(subzero.OutputAsm)
	case "elf", "obj":
		cfg = cfg.WithOutputFormat(subzero.OutputObj)
	default:
		fmt.Fprintf(stdErr, "invalid -filetype: %s\n", *filetype)
		exit(1)
		return
	}

	out := stdOut
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(stdErr, "error creating '%s': %v\n", *output, err)
			exit(1)
			return
		}
		defer f.Close()
		out = f
	}

	numErrors, err := subzero.Translate(cfg, input, out)
	if err != nil {
		fmt.Fprintf(stdErr, "%s: %v\n", inputPath, err)
	}
	if numErrors > 0 {
		fmt.Fprintf(stdErr, "%s: %d errors\n", inputPath, numErrors)
	}
	if err != nil || numErrors > 0 {
		exit(1)
		return
	}
	exit(0)
}

// applyFileOptions fills in config-file values for flags the user did not
// set explicitly.
func applyFileOptions(flags *flag.FlagSet, opts *fileOptions,
	target, filetype, output *string, failFast *bool, workers *int, timeFuncs *bool) {
	set := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if opts.Target != "" && !set["target"] {
		*target = opts.Target
	}
	if opts.Filetype != "" && !set["filetype"] {
		*filetype = opts.Filetype
	}
	if opts.Output != "" && !set["o"] {
		*output = opts.Output
	}
	if opts.FailFast != nil && !set["fail-fast"] {
		*failFast = *opts.FailFast
	}
	if opts.Workers != 0 && !set["workers"] {
		*workers = opts.Workers
	}
	if opts.TimeFuncs != nil && !set["time-funcs"] {
		*timeFuncs = *opts.TimeFuncs
	}
}

func printUsage(stdErr io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "subzero translates a PNaCl bitcode file to native code")
	fmt.Fprintln(stdErr, "")
	fmt.Fprintln(stdErr, "Usage: subzero [options] <input.pexe>")
	fmt.Fprintln(stdErr, "")
	flags.PrintDefaults()
}
