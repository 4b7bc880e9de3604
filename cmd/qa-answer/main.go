// Command qa-answer extracts answers to questions about passages using GGUF reader models
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/lth/go-matchlstm/internal/answer"
	"github.com/lth/go-matchlstm/internal/cputime"
	"github.com/lth/go-matchlstm/pkg/ggufqa"
)

var (
	modelPath  = flag.String("model", "", "Path to GGUF model file (required)")
	inputPath  = flag.String("input", "", "Input file (one JSON object per line with \"passage\", \"question\" and optional gold \"answers\", default: stdin)")
	outputPath = flag.String("output", "", "Output file (default: stdout)")
	format     = flag.String("format", "jsonl", "Output format: jsonl, json, tsv")
	threads    = flag.Int("threads", runtime.NumCPU(), "Number of threads")
	batchSize  = flag.Int("batch", 16, "Queries per forward pass")
	maxWordLen = flag.Int("max-word-len", 0, "Truncate words to this many characters for character encoding (0 = no limit)")
	attention  = flag.Bool("attention", false, "Include attention maps in JSON output")
	verbose    = flag.Bool("verbose", false, "Verbose logging")
	showStats  = flag.Bool("stats", false, "Show performance statistics")
	cpuProfile = flag.String("cpuprofile", "", "Write CPU profile to file")
)

// record is one input line.
type record struct {
	ID       string   `json:"id,omitempty"`
	Passage  string   `json:"passage"`
	Question string   `json:"question"`
	Words    []string `json:"passage_words,omitempty"`
	QWords   []string `json:"question_words,omitempty"`
	Answers  []string `json:"answers,omitempty"`
}

// result is one output record. EM and F1 are set only for records with gold
// answers.
type result struct {
	ID                     string      `json:"id,omitempty"`
	Question               string      `json:"question"`
	Answer                 string      `json:"answer"`
	Start                  int         `json:"start"`
	End                    int         `json:"end"`
	Score                  float64     `json:"score"`
	EM                     *float64    `json:"em,omitempty"`
	F1                     *float64    `json:"f1,omitempty"`
	MatchAttention         [][]float64 `json:"match_attention,omitempty"`
	MatchAttentionBackward [][]float64 `json:"match_attention_backward,omitempty"`
	SelfAttention          [][]float64 `json:"self_attention,omitempty"`
}

func main() {
	flag.Parse()

	if *modelPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -model is required\n")
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
		}()
	}

	if *verbose {
		log.Printf("Loading model from %s...", *modelPath)
	}

	rt, err := ggufqa.Open(*modelPath,
		ggufqa.WithThreads(*threads),
		ggufqa.WithBatchSize(*batchSize),
		ggufqa.WithVerbose(*verbose),
		ggufqa.WithAttention(*attention),
		ggufqa.WithMaxWordLen(*maxWordLen),
	)
	if err != nil {
		log.Fatalf("Failed to open model: %v", err)
	}
	defer rt.Close()

	// Open input
	var input io.Reader = os.Stdin
	if *inputPath != "" {
		f, err := os.Open(*inputPath)
		if err != nil {
			log.Fatalf("Failed to open input file: %v", err)
		}
		defer f.Close()
		input = f
	}

	// Open output
	var output io.Writer = os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer f.Close()
		output = f
	}

	records, err := readRecords(input)
	if err != nil {
		log.Fatalf("Failed to read input: %v", err)
	}
	if len(records) == 0 {
		log.Fatalf("No input queries")
	}

	queries := make([]ggufqa.Query, len(records))
	for i, r := range records {
		queries[i] = ggufqa.Query{
			Passage:       r.Passage,
			Question:      r.Question,
			PassageWords:  r.Words,
			QuestionWords: r.QWords,
		}
	}

	if *verbose {
		log.Printf("Processing %d queries...", len(queries))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	startCPU := cputime.Now()
	startWall := time.Now()
	answers, err := rt.Answer(ctx, queries)
	if err != nil {
		log.Fatalf("Failed to answer: %v", err)
	}
	wall := time.Since(startWall)
	cpu := cputime.Since(startCPU)

	results, eval := buildResults(records, answers)

	w := bufio.NewWriter(output)
	if err := writeOutput(w, *format, results); err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}

	if eval.Count > 0 {
		fmt.Fprintf(os.Stderr, "Evaluation over %d answered queries: exact match %.2f, F1 %.2f\n",
			eval.Count, eval.ExactMatch(), eval.F1())
	}

	if *showStats {
		fmt.Fprintf(os.Stderr, "\nStatistics:\n")
		fmt.Fprintf(os.Stderr, "  Queries processed: %d\n", len(results))
		fmt.Fprintf(os.Stderr, "  Total time: %v\n", wall)
		fmt.Fprintf(os.Stderr, "  Average time: %v per query\n", wall/time.Duration(len(results)))
		fmt.Fprintf(os.Stderr, "  Throughput: %.2f queries/sec\n", float64(len(results))/wall.Seconds())
		if cpu > 0 {
			fmt.Fprintf(os.Stderr, "  CPU time: %v (%.2f cores busy)\n", cpu, cpu.Seconds()/wall.Seconds())
		}
	}
}

// buildResults pairs answers with their input records and scores every record
// that carries gold answers.
func buildResults(records []record, answers []ggufqa.Answer) ([]result, *answer.Evaluation) {
	eval := &answer.Evaluation{}
	results := make([]result, len(answers))
	for i, a := range answers {
		results[i] = result{
			ID:                     records[i].ID,
			Question:               records[i].Question,
			Answer:                 a.Text,
			Start:                  a.Start,
			End:                    a.End,
			Score:                  a.Score,
			MatchAttention:         a.MatchAttention,
			MatchAttentionBackward: a.MatchAttentionBackward,
			SelfAttention:          a.SelfAttention,
		}
		if golds := records[i].Answers; len(golds) > 0 {
			em, f1 := answer.BestScores(a.Text, golds)
			results[i].EM, results[i].F1 = &em, &f1
			eval.Add(a.Text, golds)
		}
	}
	return results, eval
}

func readRecords(r io.Reader) ([]record, error) {
	var records []record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func writeOutput(w io.Writer, format string, results []result) error {
	switch format {
	case "jsonl":
		enc := json.NewEncoder(w)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "tsv":
		return writeTSV(w, results)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func writeTSV(w io.Writer, results []result) error {
	writer := csv.NewWriter(w)
	writer.Comma = '\t'

	if err := writer.Write([]string{"id", "question", "answer", "start", "end", "score"}); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.ID,
			r.Question,
			r.Answer,
			strconv.Itoa(r.Start),
			strconv.Itoa(r.End),
			strconv.FormatFloat(r.Score, 'g', 6, 64),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
