// Command benchmark measures answer extraction throughput
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/lth/go-matchlstm/internal/cputime"
	"github.com/lth/go-matchlstm/internal/kernels"
	modelrt "github.com/lth/go-matchlstm/internal/runtime"
	"github.com/lth/go-matchlstm/internal/vocab"
	"github.com/lth/go-matchlstm/pkg/ggufqa"
)

var (
	modelPath  = flag.String("model", "", "Path to GGUF model file (default: random model built from -config)")
	configPath = flag.String("config", "", "JSON model config for the random model (default: built-in defaults)")
	duration   = flag.Int("duration", 10, "Benchmark duration in seconds")
	mode       = flag.String("mode", "batch", "Benchmark mode: batch or isolated")

	workers    = flag.Int("workers", runtime.NumCPU(), "Worker goroutines for isolated mode")
	batchSize  = flag.Int("batch-size", 16, "Queries per request in batch mode")
	threads    = flag.Int("threads", runtime.NumCPU(), "Runtime threads")
	cpuProfile = flag.String("cpuprofile", "", "Write CPU profile to file")
)

// passages are sampled to build queries of varying length.
var passages = []string{
	"Nikola Tesla was born on 10 July 1856 in the village of Smiljan, within the Military Frontier, in the Austrian Empire.",
	"In 1870, Tesla moved far north to Karlovac to attend school at the Higher Real Gymnasium, where he was profoundly influenced by a math teacher, Martin Sekulić.",
	"The classes were held in German, as it was a school within the Austro-Hungarian Military Frontier.",
	"Tesla was able to perform integral calculus in his head, which prompted his teachers to believe that he was cheating.",
	"He finished a four-year term in three years, graduating in 1873.",
}

var questions = []string{
	"Where was Tesla born?",
	"Why did Tesla go to Karlovac?",
	"What language were classes held in?",
	"What could Tesla do in his head?",
	"When did Tesla graduate?",
}

func main() {
	flag.Parse()

	if *mode != "batch" && *mode != "isolated" {
		fmt.Fprintf(os.Stderr, "Error: -mode must be 'batch' or 'isolated'\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *duration <= 0 {
		fmt.Fprintf(os.Stderr, "Error: -duration must be greater than 0\n\n")
		flag.Usage()
		os.Exit(1)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatalf("Failed to create CPU profile: %v", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Failed to start CPU profile: %v", err)
		}
		defer func() {
			pprof.StopCPUProfile()
			f.Close()
			log.Printf("CPU profile written to %s", *cpuProfile)
		}()
	}

	image, err := loadImage()
	if err != nil {
		log.Fatalf("Failed to prepare model: %v", err)
	}

	log.Printf("CPU: %s, GOMAXPROCS %d", kernels.CPUFeatures(), runtime.GOMAXPROCS(0))
	log.Printf("Running %s mode benchmark for %d seconds...", *mode, *duration)

	startCPU := cputime.Now()
	var (
		answered     int
		elapsed      time.Duration
		workerCounts []int
	)
	switch *mode {
	case "batch":
		answered, elapsed = runBatchMode(image)
	case "isolated":
		answered, elapsed, workerCounts = runIsolatedMode(image)
	}
	cpu := cputime.Since(startCPU)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	fmt.Fprintf(os.Stderr, "\n=== Benchmark Results ===\n")
	fmt.Fprintf(os.Stderr, "Mode: %s\n", *mode)
	fmt.Fprintf(os.Stderr, "Duration: %v\n", elapsed)
	fmt.Fprintf(os.Stderr, "Total answers: %d\n", answered)
	if answered > 0 {
		fmt.Fprintf(os.Stderr, "Throughput: %.2f answers/sec\n", float64(answered)/elapsed.Seconds())
		fmt.Fprintf(os.Stderr, "Average latency: %v per answer\n", elapsed/time.Duration(answered))
	}
	if cpu > 0 {
		fmt.Fprintf(os.Stderr, "CPU time: %v (%.2f cores busy)\n", cpu, cpu.Seconds()/elapsed.Seconds())
	}
	if len(workerCounts) > 0 {
		lo, hi := workerCounts[0], workerCounts[0]
		for _, c := range workerCounts {
			lo, hi = min(lo, c), max(hi, c)
		}
		fmt.Fprintf(os.Stderr, "Per-worker answers: min %d, max %d\n", lo, hi)
	}

	fmt.Fprintf(os.Stderr, "\n=== Memory Statistics ===\n")
	fmt.Fprintf(os.Stderr, "HeapAlloc: %.2f MB\n", float64(m.HeapAlloc)/1024/1024)
	fmt.Fprintf(os.Stderr, "TotalAlloc: %.2f MB\n", float64(m.TotalAlloc)/1024/1024)
	fmt.Fprintf(os.Stderr, "NumGC: %d\n", m.NumGC)
}

// loadImage returns the model file contents, building a random model over the
// benchmark corpus when no model file is given.
func loadImage() ([]byte, error) {
	if *modelPath != "" {
		return os.ReadFile(*modelPath)
	}
	cfg := modelrt.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = modelrt.LoadConfig(*configPath); err != nil {
			return nil, err
		}
	}
	var words []string
	for _, text := range append(append([]string(nil), passages...), questions...) {
		words = append(words, vocab.SplitWords(text)...)
	}
	m, err := modelrt.InitModel(cfg, vocab.New(words, vocab.DefaultNormalizer()), vocab.CharVocab(words), 1)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	log.Printf("Random model: %d parameters, stages %v", m.NumParams(), m.StageNames())
	return m.Bytes()
}

func randomQueries(rng *rand.Rand, n int) []ggufqa.Query {
	out := make([]ggufqa.Query, n)
	for i := range out {
		out[i] = ggufqa.Query{
			Passage:  passages[rng.IntN(len(passages))],
			Question: questions[rng.IntN(len(questions))],
		}
	}
	return out
}

// runBatchMode sends batches of random queries to one runtime until the
// deadline.
func runBatchMode(image []byte) (int, time.Duration) {
	rt, err := ggufqa.OpenBytes(image, ggufqa.WithThreads(*threads), ggufqa.WithBatchSize(*batchSize))
	if err != nil {
		log.Fatalf("Failed to open model: %v", err)
	}
	defer rt.Close()

	start := time.Now()
	ctx, cancel := context.WithDeadline(context.Background(), start.Add(time.Duration(*duration)*time.Second))
	defer cancel()

	rng := rand.New(rand.NewPCG(1, 2))
	total := 0
	for ctx.Err() == nil {
		queries := randomQueries(rng, *batchSize)
		if _, err := rt.Answer(ctx, queries); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("Warning: answer failed: %v", err)
			continue
		}
		total += len(queries)
	}
	return total, time.Since(start)
}

// runIsolatedMode runs one single-threaded runtime per worker, each answering
// one query at a time.
func runIsolatedMode(image []byte) (int, time.Duration, []int) {
	start := time.Now()
	ctx, cancel := context.WithDeadline(context.Background(), start.Add(time.Duration(*duration)*time.Second))
	defer cancel()

	counts := make([]int, *workers)
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rt, err := ggufqa.OpenBytes(image, ggufqa.WithThreads(1), ggufqa.WithBatchSize(1))
			if err != nil {
				log.Printf("Worker %d: failed to open model: %v", id, err)
				return
			}
			defer rt.Close()

			rng := rand.New(rand.NewPCG(uint64(id), 2))
			for ctx.Err() == nil {
				q := randomQueries(rng, 1)[0]
				if _, err := rt.AnswerSingle(ctx, q.Passage, q.Question); err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("Worker %d: answer failed: %v", id, err)
					continue
				}
				counts[id]++
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, c := range counts {
		total += c
	}
	return total, time.Since(start), counts
}
