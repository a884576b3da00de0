// Package config parses the option table of spec.md §6: entries,
// address ranges, timeout, thread count, repeat-iteration cap,
// cycle-duplication bound, and the skip_questions interactive-prompt
// override. Grounded in the teacher's (via the pack's ja7ad-consumption
// repo) convention of binding flags directly onto a plain options
// struct rather than a generated config object, extended here with an
// optional YAML file layer so the same fields can be set outside the
// CLI.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/sampler"
)

// Options is the fully parsed and validated configuration of spec.md
// §6's option table.
type Options struct {
	Entries          []uint64        `yaml:"entries"`
	Ranges           []sampler.Range `yaml:"range"`
	Timeout          time.Duration   `yaml:"timeout"`
	Threads          int             `yaml:"threads"`
	RepeatIterations uint32          `yaml:"repeat_iterations"`
	NodeDuplicates   uint32          `yaml:"node_duplicates"`
	SkipQuestions    bool            `yaml:"skip_questions"`
}

// Default returns the option table's defaults: no explicit entries
// (fall back to the binary's own), no range filter (admit everything),
// a one-hour timeout, four worker threads, 16 REPEAT unrollings, and
// the spec's default cycle-duplication bound.
func Default() Options {
	return Options{
		Timeout:          time.Hour,
		Threads:          4,
		RepeatIterations: 16,
		NodeDuplicates:   flowgraph.MinDuplicateBound,
	}
}

// rawFlags mirrors Options but in the string/primitive shapes pflag
// can bind directly, since Entries/Ranges/Timeout need their own
// hex/range/duration grammars rather than pflag's built-in parsers.
type rawFlags struct {
	entries          string
	ranges           string
	timeout          string
	threads          int
	repeatIterations uint32
	nodeDuplicates   uint32
	skipQuestions    bool
	configFile       string
}

// BindFlags registers the option table onto fs, defaulted from
// Default(). Call Parse after fs.Parse(os.Args[1:]) to validate and
// convert the bound flags into Options.
func BindFlags(fs *pflag.FlagSet) *rawFlags {
	d := Default()
	r := &rawFlags{}
	fs.StringVar(&r.entries, "entries", "", "comma list of hex entry addresses (empty: use binary entries)")
	fs.StringVar(&r.ranges, "range", "", "comma list of lo-hi hex address ranges")
	fs.StringVar(&r.timeout, "timeout", formatTimeout(d.Timeout), "total run budget, [DD:]HH:MM:SS")
	fs.IntVar(&r.threads, "threads", d.Threads, "worker thread count (1-128)")
	fs.Uint32Var(&r.repeatIterations, "repeat_iterations", d.RepeatIterations, "REPEAT-loop unrolling cap (<=64)")
	fs.Uint32Var(&r.nodeDuplicates, "node_duplicates", d.NodeDuplicates, "cycle-resolution clone bound (<=64)")
	fs.BoolVar(&r.skipQuestions, "skip_questions", false, "suppress interactive prompts")
	fs.StringVar(&r.configFile, "config", "", "optional YAML file providing any of the above")
	return r
}

// Parse validates r (as bound by BindFlags, after fs.Parse has run)
// and returns the resulting Options. A --config file, if given, is
// loaded first and then overridden field-by-field by any flag the
// caller explicitly set on fs.
func Parse(fs *pflag.FlagSet, r *rawFlags) (Options, error) {
	o := Default()
	if r.configFile != "" {
		fileOpts, err := loadFile(r.configFile)
		if err != nil {
			return Options{}, err
		}
		o = fileOpts
	}

	if fs.Changed("entries") || r.entries != "" {
		entries, err := ParseEntries(r.entries)
		if err != nil {
			return Options{}, err
		}
		o.Entries = entries
	}
	if fs.Changed("range") || r.ranges != "" {
		ranges, err := ParseRanges(r.ranges)
		if err != nil {
			return Options{}, err
		}
		o.Ranges = ranges
	}
	if fs.Changed("timeout") {
		timeout, err := ParseDuration(r.timeout)
		if err != nil {
			return Options{}, err
		}
		o.Timeout = timeout
	}
	if fs.Changed("threads") {
		o.Threads = r.threads
	}
	if fs.Changed("repeat_iterations") {
		o.RepeatIterations = r.repeatIterations
	}
	if fs.Changed("node_duplicates") {
		o.NodeDuplicates = r.nodeDuplicates
	}
	if fs.Changed("skip_questions") {
		o.SkipQuestions = r.skipQuestions
	}

	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// Validate enforces the option table's stated bounds.
func (o Options) Validate() error {
	if o.Threads < 1 || o.Threads > 128 {
		return fmt.Errorf("config: threads must be in [1,128], got %d", o.Threads)
	}
	if o.RepeatIterations > 64 {
		return fmt.Errorf("config: repeat_iterations must be <=64, got %d", o.RepeatIterations)
	}
	if o.NodeDuplicates > 64 {
		return fmt.Errorf("config: node_duplicates must be <=64, got %d", o.NodeDuplicates)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive")
	}
	return nil
}

func loadFile(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	o := Default()
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Options{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return o, nil
}

// ParseEntries parses a comma list of hex addresses, e.g. "1000,2040".
func ParseEntries(s string) ([]uint64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []uint64
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(tok, "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid entry address %q: %w", tok, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// ParseRanges parses a comma list of "lo-hi" hex ranges, e.g.
// "1000-2000,4000-5000".
func ParseRanges(s string) ([]sampler.Range, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []sampler.Range
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		parts := strings.SplitN(tok, "-", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("config: invalid range %q, want lo-hi", tok)
		}
		lo, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid range lo %q: %w", parts[0], err)
		}
		hi, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid range hi %q: %w", parts[1], err)
		}
		if hi < lo {
			return nil, fmt.Errorf("config: range %q has hi < lo", tok)
		}
		out = append(out, sampler.Range{Lo: lo, Hi: hi})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lo < out[j].Lo })
	return out, nil
}

// ParseDuration parses "[DD:]HH:MM:SS" into a time.Duration.
func ParseDuration(s string) (time.Duration, error) {
	fields := strings.Split(s, ":")
	var days, hours, mins, secs int
	var err error
	switch len(fields) {
	case 3:
		hours, mins, secs, err = parseHMS(fields)
	case 4:
		days, err = strconv.Atoi(fields[0])
		if err == nil {
			hours, mins, secs, err = parseHMS(fields[1:])
		}
	default:
		return 0, fmt.Errorf("config: invalid timeout %q, want [DD:]HH:MM:SS", s)
	}
	if err != nil {
		return 0, fmt.Errorf("config: invalid timeout %q: %w", s, err)
	}
	total := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second
	if total <= 0 {
		return 0, fmt.Errorf("config: timeout %q must be positive", s)
	}
	return total, nil
}

func parseHMS(fields []string) (h, m, s int, err error) {
	h, err = strconv.Atoi(fields[0])
	if err != nil {
		return
	}
	m, err = strconv.Atoi(fields[1])
	if err != nil {
		return
	}
	s, err = strconv.Atoi(fields[2])
	return
}

func formatTimeout(d time.Duration) string {
	total := int(d.Seconds())
	days := total / 86400
	total %= 86400
	hours := total / 3600
	total %= 3600
	mins := total / 60
	secs := total % 60
	if days > 0 {
		return fmt.Sprintf("%02d:%02d:%02d:%02d", days, hours, mins, secs)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, mins, secs)
}
