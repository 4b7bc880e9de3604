// Command qa-init writes a randomly initialised reader model
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	modelrt "github.com/lth/go-matchlstm/internal/runtime"
	"github.com/lth/go-matchlstm/internal/vocab"
)

var (
	configPath = flag.String("config", "", "JSON model config (default: built-in defaults)")
	vocabPath  = flag.String("vocab", "", "Word list, one word per line, or text to split into words (required)")
	outputPath = flag.String("output", "", "Output GGUF file (required)")
	seed       = flag.Uint64("seed", 1, "Random seed for parameter initialisation")
	maxWords   = flag.Int("max-words", 0, "Keep only the first N distinct words (0 = all)")
	verbose    = flag.Bool("verbose", false, "Verbose logging")
)

func main() {
	flag.Parse()

	if *vocabPath == "" || *outputPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -vocab and -output are required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg := modelrt.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = modelrt.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	words, err := readWords(*vocabPath, *maxWords)
	if err != nil {
		log.Fatalf("Failed to read vocabulary: %v", err)
	}
	if len(words) == 0 {
		log.Fatalf("Vocabulary %s is empty", *vocabPath)
	}

	wordVocab := vocab.New(words, vocab.DefaultNormalizer())
	var charVocab *vocab.Vocab
	if cfg.CharEncoding {
		charVocab = vocab.CharVocab(words)
	}

	model, err := modelrt.InitModel(cfg, wordVocab, charVocab, *seed)
	if err != nil {
		log.Fatalf("Failed to initialise model: %v", err)
	}
	defer model.Close()

	if err := model.Save(*outputPath); err != nil {
		log.Fatalf("Failed to save model: %v", err)
	}

	if *verbose {
		log.Printf("Stages: %s", strings.Join(model.StageNames(), " -> "))
		for _, t := range model.Tensors() {
			log.Printf("  %-40s %v", t.Name, t.Shape)
		}
	}
	log.Printf("Wrote %s: %d words, %d parameters", *outputPath, wordVocab.Size(), model.NumParams())
}

// readWords collects distinct words from path. Each line is split with
// vocab.SplitWords, so both word lists and running text work. Words are
// normalised with the default normaliser so the table has one row per lookup
// form.
func readWords(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	norm := vocab.DefaultNormalizer()
	seen := make(map[string]bool)
	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		for _, w := range vocab.SplitWords(scanner.Text()) {
			w = norm.Normalize(w)
			if seen[w] {
				continue
			}
			seen[w] = true
			words = append(words, w)
			if limit > 0 && len(words) == limit {
				return words, nil
			}
		}
	}
	return words, scanner.Err()
}
