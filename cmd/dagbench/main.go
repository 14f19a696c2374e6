package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latticerun/dagsched/internal/config"
	"github.com/latticerun/dagsched/internal/events"
	"github.com/latticerun/dagsched/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		scenario   = flag.String("scenario", "dag", "benchmark scenario: scaling, overhead, dependencies, dag, all")
		numTasks   = flag.Int("tasks", 10000, "task count for the scaling/dependencies scenarios")
		verboseLog = flag.Bool("v", false, "log scheduler lifecycle events to stderr")
	)
	flag.Parse()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	var bus *events.EventBus
	if *verboseLog {
		bus = events.NewEventBus()
		defer bus.Close()
		logEvents(ctx, bus)
	}

	runner := &benchRunner{cfg: cfg, bus: bus}

	errChan := make(chan error, 1)
	go func() {
		errChan <- runner.run(ctx, *scenario, *numTasks)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		stop()
		log.Println("shutdown signal received, waiting for in-flight benchmark to finish")
		<-errChan
		log.Println("shutdown complete")
	}
}

// logEvents drains a bus's SubscribeAll channel to stderr until ctx is
// cancelled, purely so -v has something to show; nothing about the
// benchmark's correctness depends on this goroutine running.
func logEvents(ctx context.Context, bus *events.EventBus) {
	ch := bus.SubscribeAll(1024)
	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				log.Printf("event: %s task=%d", ev.EventType(), ev.TaskID())
			case <-ctx.Done():
				return
			}
		}
	}()
}

type benchRunner struct {
	cfg *config.RunConfig
	bus *events.EventBus
}

func (r *benchRunner) run(ctx context.Context, scenario string, numTasks int) error {
	scenarios := map[string]func(context.Context, int) error{
		"scaling":      r.benchmarkScaling,
		"overhead":     r.benchmarkOverhead,
		"dependencies": r.benchmarkDependencies,
		"dag":          r.benchmarkDAG,
	}

	if scenario == "all" {
		// Run every scenario concurrently via errgroup: the first scenario
		// to fail cancels gctx for the others, and its error is the one
		// returned.
		g, gctx := errgroup.WithContext(ctx)
		order := []string{"scaling", "overhead", "dependencies", "dag"}
		for _, name := range order {
			fn := scenarios[name]
			g.Go(func() error { return fn(gctx, numTasks) })
		}
		return g.Wait()
	}

	fn, ok := scenarios[scenario]
	if !ok {
		return fmt.Errorf("unknown scenario %q", scenario)
	}
	return fn(ctx, numTasks)
}

func (r *benchRunner) newScheduler() *scheduler.Scheduler {
	s := scheduler.New(r.cfg.Workers)
	if r.bus != nil {
		s.WithEventBus(r.bus)
	}
	return s
}

// benchmarkScaling submits numTasks independent CPU-bound tasks across an
// increasing worker count and reports throughput and speedup relative to a
// single worker.
func (r *benchRunner) benchmarkScaling(ctx context.Context, numTasks int) error {
	fmt.Printf("Benchmark: Worker Scaling (%d tasks)\n", numTasks)
	fmt.Println("Workers | Time (ms) | Tasks/sec | Speedup")
	fmt.Println("--------|-----------|-----------|--------")

	var baseline time.Duration
	for i, workers := range []int{1, 2, 4, 8, 16} {
		if err := ctx.Err(); err != nil {
			return err
		}

		s := scheduler.New(workers)
		var counter atomic.Int64

		start := time.Now()
		for n := 0; n < numTasks; n++ {
			if err := s.Submit(scheduler.NewTask(uint64(n), func() {
				counter.Add(1)
				busyWork()
			})); err != nil {
				return err
			}
		}
		s.WaitAll()
		s.Shutdown()
		elapsed := time.Since(start)

		if i == 0 {
			baseline = elapsed
		}
		speedup := float64(baseline) / float64(elapsed)
		tasksPerSec := float64(numTasks) / elapsed.Seconds()

		fmt.Printf("%7d | %9.1f | %9.0f | %6.2fx\n", workers, float64(elapsed.Milliseconds()), tasksPerSec, speedup)
	}

	fmt.Println()
	return nil
}

// busyWork simulates CPU-bound task payload, large enough to dominate
// scheduling overhead.
func busyWork() {
	x := 0
	for j := 0; j < 10000; j++ {
		x += j
	}
	_ = x
}

// benchmarkOverhead measures dispatch latency: the gap between submitting a
// task and the task's closure actually starting to run, across 1000
// measurements, then reports percentile statistics.
func (r *benchRunner) benchmarkOverhead(ctx context.Context, _ int) error {
	const measurements = 1000

	s := scheduler.New(4)
	defer s.Shutdown()

	latencies := make([]time.Duration, 0, measurements)
	for i := 0; i < measurements; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		submitTime := time.Now()
		started := make(chan time.Time, 1)

		task := scheduler.NewTask(uint64(i), func() {
			started <- time.Now()
		})
		if err := s.Submit(task); err != nil {
			return err
		}

		startTime := <-started
		latencies = append(latencies, startTime.Sub(submitTime))
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	percentile := func(p int) time.Duration {
		idx := (measurements * p) / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	avg := total / time.Duration(measurements)

	fmt.Printf("Benchmark: Dispatch Overhead (%d measurements)\n", measurements)
	fmt.Printf("  Min:    %v\n", latencies[0])
	fmt.Printf("  Avg:    %v\n", avg)
	fmt.Printf("  Median: %v\n", percentile(50))
	fmt.Printf("  P95:    %v\n", percentile(95))
	fmt.Printf("  P99:    %v\n", percentile(99))
	fmt.Printf("  Max:    %v\n\n", latencies[len(latencies)-1])

	return nil
}

// benchmarkDependencies compares wall-clock time across three shapes of the
// same task count: no dependencies, a linear chain, and a single-root
// fan-out, isolating the cost of dependency bookkeeping itself.
func (r *benchRunner) benchmarkDependencies(ctx context.Context, numTasks int) error {
	fmt.Println("Benchmark: Dependency Resolution Overhead")
	fmt.Println()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Without dependencies.
	{
		s := r.newScheduler()
		var counter atomic.Int64
		start := time.Now()
		for i := 0; i < numTasks; i++ {
			if err := s.Submit(scheduler.NewTask(uint64(i), func() { counter.Add(1) })); err != nil {
				return err
			}
		}
		s.WaitAll()
		s.Shutdown()
		fmt.Printf("Without dependencies: %v\n", time.Since(start))
	}

	// Chain: task i depends on task i-1.
	{
		s := r.newScheduler()
		var data atomic.Int64
		start := time.Now()

		tasks := make([]*scheduler.Task, numTasks)
		for i := 0; i < numTasks; i++ {
			tasks[i] = scheduler.NewTask(uint64(i), func() { data.Add(1) })
			if i > 0 {
				if err := tasks[i].AddDependency(tasks[i-1]); err != nil {
					return err
				}
			}
		}
		for _, t := range tasks {
			if err := s.Submit(t); err != nil {
				return err
			}
		}
		s.WaitAll()
		s.Shutdown()
		fmt.Printf("With dependencies (chain): %v\n", time.Since(start))
	}

	// Fan-out: task 0 is the root, every other task depends on it.
	{
		s := r.newScheduler()
		var counter atomic.Int64
		start := time.Now()

		root := scheduler.NewTask(0, func() { counter.Add(1) })
		deps := make([]*scheduler.Task, 0, numTasks-1)
		for i := 1; i < numTasks; i++ {
			t := scheduler.NewTask(uint64(i), func() { counter.Add(1) })
			if err := t.AddDependency(root); err != nil {
				return err
			}
			deps = append(deps, t)
		}
		if err := s.Submit(root); err != nil {
			return err
		}
		for _, t := range deps {
			if err := s.Submit(t); err != nil {
				return err
			}
		}
		s.WaitAll()
		s.Shutdown()
		fmt.Printf("With dependencies (fan-out): %v\n\n", time.Since(start))
	}

	return nil
}

// benchmarkDAG builds the layered workflow described by cfg.DAG: a chain of
// fixed-size layers where each task in layer N depends on FanIn tasks from
// layer N-1, plus a single final task depending on the whole last layer.
// The default shape (10 -> 50 -> 10 -> 1) mirrors a realistic
// load -> process -> aggregate -> finalize pipeline.
func (r *benchRunner) benchmarkDAG(ctx context.Context, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	shape := r.cfg.DAG
	if len(shape.LayerSizes) == 0 {
		shape = config.DAGShapeConfig{LayerSizes: []int{10, 50, 10, 1}, FanIn: 2}
	}

	fmt.Println("Benchmark: DAG Processing (Realistic Workload)")
	fmt.Println()

	s := r.newScheduler()
	defer s.Shutdown()

	var result atomic.Int64
	var nextID uint64
	var layers [][]*scheduler.Task

	var injector *randomFailureInjector
	var breakers *scheduler.CircuitBreakerRegistry
	var retryCfg scheduler.RetryConfig
	if r.cfg.FailureRate > 0 {
		injector = newRandomFailureInjector(r.cfg.FailureRate, int64(len(shape.LayerSizes)))
		breakers = scheduler.NewCircuitBreakerRegistryWithSettings(resolveCircuitBreakerSettings(r.cfg.CircuitBreakers, "default"))
		retryCfg = resolveRetryConfig(r.cfg.Retry)
	}

	baseDelay := 100 * time.Microsecond
	if r.cfg.SimulatedLatency != "" {
		d, err := time.ParseDuration(r.cfg.SimulatedLatency)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing simulated_latency: %v\n", err)
			os.Exit(1)
		}
		baseDelay = d
	}

	start := time.Now()

	var prev []*scheduler.Task
	for li, size := range shape.LayerSizes {
		layer := make([]*scheduler.Task, size)
		perTaskDelay := baseDelay / time.Duration(li+1)
		layerName := fmt.Sprintf("layer-%d", li)

		for i := 0; i < size; i++ {
			id := nextID
			nextID++

			var task *scheduler.Task
			if injector != nil {
				var taskErr error
				work := scheduler.ResilientWork(ctx, breakers.Get(layerName), retryCfg, func(context.Context) error {
					time.Sleep(perTaskDelay)
					if err := injector.maybeFail(); err != nil {
						return err
					}
					result.Add(1)
					return nil
				}, &taskErr)
				task = scheduler.NewTask(id, work)
			} else {
				task = scheduler.NewTask(id, func() {
					time.Sleep(perTaskDelay)
					result.Add(1)
				})
			}

			if prev != nil {
				fanIn := shape.FanIn
				if fanIn < 1 {
					fanIn = 1
				}
				for f := 0; f < fanIn; f++ {
					predIdx := (i + f) % len(prev)
					if err := task.AddDependency(prev[predIdx]); err != nil {
						return err
					}
				}
			}

			layer[i] = task
		}
		layers = append(layers, layer)
		prev = layer
	}

	finalTask := scheduler.NewTask(nextID, func() { result.Add(1) })
	if len(layers) > 0 {
		for _, t := range layers[len(layers)-1] {
			if err := finalTask.AddDependency(t); err != nil {
				return err
			}
		}
	}

	for _, layer := range layers {
		for _, t := range layer {
			if err := s.Submit(t); err != nil {
				return err
			}
		}
	}
	if err := s.Submit(finalTask); err != nil {
		return err
	}

	s.WaitAll()

	fmt.Printf("Total time: %v\n", time.Since(start))
	fmt.Printf("Tasks executed: %d\n\n", result.Load())

	return nil
}

// randomFailureInjector makes each maybeFail call fail independently with
// probability rate, so a retried attempt rolls again and can fail again,
// exercising ResilientWork under load generated by a real benchmark run
// rather than a synthetic unit test.
type randomFailureInjector struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rate float64
}

func newRandomFailureInjector(rate float64, seed int64) *randomFailureInjector {
	return &randomFailureInjector{rng: rand.New(rand.NewSource(seed)), rate: rate}
}

func (f *randomFailureInjector) maybeFail() error {
	f.mu.Lock()
	roll := f.rng.Float64()
	f.mu.Unlock()

	if roll < f.rate {
		return fmt.Errorf("injected transient failure")
	}
	return nil
}

// resolveRetryConfig converts the on-disk config.RetryConfig into a
// scheduler.RetryConfig, exiting the process on a malformed duration since
// that is a startup configuration error, not a runtime one.
func resolveRetryConfig(cfg config.RetryConfig) scheduler.RetryConfig {
	initial, maxInterval, maxElapsed, err := cfg.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving retry config: %v\n", err)
		os.Exit(1)
	}
	return scheduler.RetryConfig{
		InitialInterval:     initial,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      maxElapsed,
		Multiplier:          cfg.Multiplier,
		RandomizationFactor: cfg.RandomizationFactor,
	}
}

// resolveCircuitBreakerSettings picks the CircuitBreakerConfig entry in cfgs
// matching category, falling back to one named "default", then to the
// scheduler's built-in defaults if cfgs names neither. Exits the process on
// a malformed duration, the same startup-error treatment as
// resolveRetryConfig.
func resolveCircuitBreakerSettings(cfgs []config.CircuitBreakerConfig, category string) scheduler.CircuitBreakerSettings {
	var match *config.CircuitBreakerConfig
	for i := range cfgs {
		if cfgs[i].Category == category {
			match = &cfgs[i]
			break
		}
	}
	if match == nil {
		for i := range cfgs {
			if cfgs[i].Category == "default" {
				match = &cfgs[i]
				break
			}
		}
	}
	if match == nil {
		return scheduler.DefaultCircuitBreakerSettings()
	}

	maxRequests, interval, timeout, consecutiveFailures, err := match.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving circuit breaker config: %v\n", err)
		os.Exit(1)
	}
	return scheduler.CircuitBreakerSettings{
		MaxRequests:         maxRequests,
		Interval:            interval,
		Timeout:             timeout,
		ConsecutiveFailures: consecutiveFailures,
	}
}

