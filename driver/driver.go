// Package driver implements BDADriver: the multi-threaded orchestrator
// of spec.md §4.7 that repeatedly samples and interprets paths, folds
// newly discovered indirect branches back into the iCFG, reweights, and
// finally runs the posterior analysis once the runtime budget expires.
// Grounded in the teacher's icfg.ResolveLoops bounded-worker-pool shape
// (itself already generalized from the teacher's own thread-table
// pattern), extended here into a long-running dispatch loop since the
// teacher's own run-loop binaries were trimmed as out-of-domain (see
// DESIGN.md).
package driver

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rot127/bda-go/bdaerr"
	"github.com/rot127/bda-go/bdalog"
	"github.com/rot127/bda-go/bdastate"
	"github.com/rot127/bda-go/config"
	"github.com/rot127/bda-go/disasm"
	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/icfg"
	"github.com/rot127/bda-go/interp"
	"github.com/rot127/bda-go/post"
	"github.com/rot127/bda-go/sampler"
	"github.com/rot127/bda-go/weight"
)

// reweightThreads is the fixed worker count spec.md §4.7 uses to rerun
// resolve_loops after folding new edges, independent of the run's
// configured --threads (that count governs interpretation workers,
// not this occasional re-resolution pass).
const reweightThreads = 4

// defaultICFGUpdateThreshold/-Interval are the update_icfg_check
// triggers of spec.md §4.7 step 5 when the caller leaves them unset.
const (
	defaultICFGUpdateThreshold = 256
	defaultICFGUpdateInterval  = 2 * time.Second
)

// Result is what a completed run returns to its caller: the discovered
// dependent-instruction-pair set, the final run statistics, and a
// coarse utilization diagnostic.
type Result struct {
	DIP   post.DIP
	Stats bdastate.Stats

	// LazyFactor is nothing_happened/handled_thread: the fraction of
	// hot-loop iterations that neither dispatched nor folded anything,
	// relative to the number of products actually folded. Near zero
	// means the worker pool stayed saturated; large values mean the
	// orchestrator mostly idled waiting on sampling or workers.
	LazyFactor float64
}

// Driver is the BDADriver orchestrator of spec.md §4.7. One Driver
// drives exactly one Run call to completion; construct a fresh one
// per run.
type Driver struct {
	ICFG   *icfg.ICFG
	Disasm disasm.Disassembler
	WMap   *weight.Map
	Opts   config.Options
	Log    *bdalog.Logger
	Notify bdalog.Notifier

	// Confirm asks the caller an interactive yes/no question (e.g. "no
	// malloc found, continue anyway?"). A nil Confirm, or a run with
	// Opts.SkipQuestions set, always proceeds.
	Confirm func(prompt string) bool

	// Seed roots every internal RNG (the orchestrator's own entry
	// picker, the sampler, and each worker's interpreter) so a run is
	// reproducible given the same seed.
	Seed int64

	// PathBufLimit bounds how many sampled paths may wait in the path
	// buffer for a free worker at once; paths a worker has already taken
	// are not counted. Zero selects 4*Opts.Threads.
	PathBufLimit int

	// ICFGUpdateThreshold/ICFGUpdateInterval override the
	// update_icfg_check triggers; zero selects the package defaults.
	ICFGUpdateThreshold int
	ICFGUpdateInterval  time.Duration

	// OnStats, if set, is invoked with a fresh Stats snapshot whenever
	// the main loop folds new products, so a caller (cmd/bda's
	// spinner) can render live progress without polling.
	OnStats func(bdastate.Stats)
}

// New returns a Driver ready to Run, defaulted per spec.md §6's option
// table and §4.7's fixed reweighting behavior.
func New(ic *icfg.ICFG, d disasm.Disassembler, wmap *weight.Map, opts config.Options, log *bdalog.Logger, notify bdalog.Notifier) *Driver {
	if log == nil {
		log = bdalog.Default()
	}
	if notify == nil {
		notify = bdalog.NopNotifier{}
	}
	return &Driver{
		ICFG:   ic,
		Disasm: d,
		WMap:   wmap,
		Opts:   opts,
		Log:    log,
		Notify: notify,
	}
}

type job struct {
	path      sampler.Path
	sampleDur time.Duration
}

type result struct {
	products      *interp.IntrpProducts
	sampleDur     time.Duration
	interpretDur  time.Duration
}

// Run drives the full BDA loop to completion: initialization (§4.7
// "Initialization"), the sample/interpret/fold main loop, and the
// final posterior analysis once the runtime budget expires or ctx is
// cancelled.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.Notify.Begin("bda")

	entries, err := d.resolveEntries()
	if err != nil {
		d.Notify.Error("bda", err)
		return Result{}, err
	}
	d.ICFG.SetEntries(entries)

	if err := d.checkMalloc(); err != nil {
		d.Notify.Error("bda", err)
		return Result{}, err
	}

	if err := d.ICFG.ResolveLoops(d.Opts.Threads, d.Opts.NodeDuplicates); err != nil {
		d.Notify.Error("bda", err)
		return Result{}, err
	}

	state := bdastate.New(d.WMap, entries, d.Opts.Ranges, d.Opts.Threads, d.icfgUpdateThreshold())

	dip, lazyFactor, err := d.mainLoop(ctx, state)
	if err != nil {
		d.Notify.Error("bda", err)
		return Result{}, err
	}

	d.Notify.Done("bda")
	return Result{DIP: dip, Stats: state.Snapshot(), LazyFactor: lazyFactor}, nil
}

// resolveEntries implements spec.md §4.7's "resolve entries (user-
// supplied or binary entries); validate that every entry has a
// procedure".
func (d *Driver) resolveEntries() ([]uint64, error) {
	entries := d.Opts.Entries
	if len(entries) == 0 {
		entries = d.Disasm.BinaryEntries()
	}
	for _, e := range entries {
		if !d.ICFG.HasProcedure(flowgraph.New(e)) {
			return nil, bdaerr.Structural(fmtUnknownEntry(e))
		}
	}
	return entries, nil
}

// checkMalloc implements spec.md §4.7's "emit a warning (and optionally
// prompt) if the binary has no identified malloc".
func (d *Driver) checkMalloc() error {
	if d.ICFG.HasMalloc() {
		return nil
	}
	d.Log.Warnf("no memory-allocating function identified in the binary; heap regions will not be modeled")
	if d.Opts.SkipQuestions {
		return nil
	}
	if d.Confirm != nil && !d.Confirm("continue without malloc discovery?") {
		return bdaerr.NoMallocFound{}
	}
	return nil
}

// mainLoop runs spec.md §4.7's main loop until the runtime budget
// expires or ctx is cancelled, then drains outstanding workers and
// runs the posterior analysis. The returned float64 is the run's
// LazyFactor (nothing_happened/handled_thread), per SPEC_FULL.md §11's
// "lazy factor" diagnostic.
func (d *Driver) mainLoop(ctx context.Context, state *bdastate.BDAState) (post.DIP, float64, error) {
	limit := d.pathBufLimit()
	jobs := make(chan job, limit)
	results := make(chan result, limit)

	var wg sync.WaitGroup
	for i := 0; i < d.Opts.Threads; i++ {
		wg.Add(1)
		go d.worker(i, jobs, results, &wg)
	}

	samp := sampler.New(d.WMap, d.ICFG, d.Seed, d.Opts.Ranges)
	entryPicker := rand.New(rand.NewSource(d.Seed ^ 0x5a5a5a5a))

	deadline := time.Now().Add(d.Opts.Timeout)
	lastFold := time.Now()

	var nothingHappened, handledThread int

	for time.Now().Before(deadline) && ctx.Err() == nil {
		dispatched := d.refill(jobs, samp, entryPicker, state.Entries)
		folded := d.drainResults(results, state)
		handledThread += folded
		if folded > 0 && d.OnStats != nil {
			d.OnStats(state.Snapshot())
		}

		if state.ShouldUpdateICFG(time.Since(lastFold), d.icfgUpdateInterval()) {
			if edited := d.updateICFG(state); edited {
				if err := d.ICFG.ResolveLoops(reweightThreads, d.Opts.NodeDuplicates); err != nil {
					return nil, 0, err
				}
			}
			lastFold = time.Now()
		}

		if dispatched == 0 && folded == 0 {
			nothingHappened++
			time.Sleep(time.Millisecond)
		}
	}

	close(jobs)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
waitForWorkers:
	for {
		select {
		case res := <-results:
			state.Fold(res.products, res.sampleDur, res.interpretDur)
			handledThread++
		case <-done:
			break waitForWorkers
		}
	}
flushRemaining:
	for {
		select {
		case res := <-results:
			state.Fold(res.products, res.sampleDur, res.interpretDur)
			handledThread++
		default:
			break flushRemaining
		}
	}

	lazyFactor := 0.0
	if handledThread > 0 {
		lazyFactor = float64(nothingHappened) / float64(handledThread)
	}

	analyzer := post.New(d.ICFG, d.Opts.Ranges, d.Disasm)
	dip, err := analyzer.Run(state.Samples)
	return dip, lazyFactor, err
}

// refill implements spec.md §4.7 step 1: sample from random entries
// until the path buffer (jobs) is full, returning how many paths were
// dispatched this iteration.
func (d *Driver) refill(jobs chan<- job, samp *sampler.Sampler, picker *rand.Rand, entries []uint64) int {
	if len(entries) == 0 {
		return 0
	}
	dispatched := 0
	for {
		entry := entries[picker.Intn(len(entries))]
		start := time.Now()
		path, err := samp.SamplePath(entry)
		if err != nil {
			d.Log.Warnf("sampling from %#x: %v", entry, err)
			return dispatched
		}
		select {
		case jobs <- job{path: path, sampleDur: time.Since(start)}:
			dispatched++
		default:
			return dispatched
		}
	}
}

// drainResults implements spec.md §4.7 step 4: fold every immediately
// available IntrpProducts into state without blocking, returning how
// many were folded.
func (d *Driver) drainResults(results <-chan result, state *bdastate.BDAState) int {
	folded := 0
	for {
		select {
		case res := <-results:
			state.Fold(res.products, res.sampleDur, res.interpretDur)
			folded++
		default:
			return folded
		}
	}
}

// worker implements spec.md §4.7 step 2/3: it owns one Interpreter for
// the lifetime of the run (per SPEC_FULL.md §7, "each Path is owned by
// exactly one worker"), consuming paths until jobs is closed.
func (d *Driver) worker(idx int, jobs <-chan job, results chan<- result, wg *sync.WaitGroup) {
	defer wg.Done()
	in := interp.New(d.Disasm, d.Opts.RepeatIterations, d.Seed+int64(idx)+1, d.Log)
	for j := range jobs {
		start := time.Now()
		products := in.Run(j.path)
		results <- result{products: products, sampleDur: j.sampleDur, interpretDur: time.Since(start)}
	}
}

func (d *Driver) pathBufLimit() int {
	if d.PathBufLimit > 0 {
		return d.PathBufLimit
	}
	return 4 * d.Opts.Threads
}

func (d *Driver) icfgUpdateThreshold() int {
	if d.ICFGUpdateThreshold > 0 {
		return d.ICFGUpdateThreshold
	}
	return defaultICFGUpdateThreshold
}

func (d *Driver) icfgUpdateInterval() time.Duration {
	if d.ICFGUpdateInterval > 0 {
		return d.ICFGUpdateInterval
	}
	return defaultICFGUpdateInterval
}

func fmtUnknownEntry(addr uint64) string {
	return "driver: no procedure registered at configured entry " + formatAddr(addr)
}

func formatAddr(addr uint64) string {
	return flowgraph.New(addr).String()
}
