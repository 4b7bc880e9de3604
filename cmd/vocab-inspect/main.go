// Command vocab-inspect shows how text maps onto a reader model's vocabulary
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/lth/go-matchlstm/internal/gguf"
	"github.com/lth/go-matchlstm/internal/vocab"
)

var (
	search = flag.String("search", "", "List tokens containing this substring")
	chars  = flag.Bool("chars", false, "Inspect the character vocabulary instead of words")
	limit  = flag.Int("limit", 20, "Tokens shown at each end of the overview")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <model.gguf> [text | token ids...]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	reader, err := gguf.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to open model: %v", err)
	}
	defer reader.Close()

	key := "tokenizer.ggml.tokens"
	if *chars {
		key = "matchlstm.char_tokens"
	}
	tokens, ok := reader.Strings(key)
	if !ok {
		log.Fatalf("%s not found in metadata", key)
	}

	normalizer := vocab.Normalizer{}
	if !*chars {
		lower, _ := reader.Bool("matchlstm.vocab.lowercase")
		accents, _ := reader.Bool("matchlstm.vocab.remove_accents")
		nfkc, _ := reader.Bool("matchlstm.vocab.nfkc")
		normalizer = vocab.NewNormalizer(lower, accents, nfkc)
	}
	v, err := vocab.FromTokens(tokens, normalizer)
	if err != nil {
		log.Fatalf("Invalid vocabulary: %v", err)
	}
	fmt.Printf("Vocabulary size: %d\n\n", v.Size())

	switch {
	case *search != "":
		n := 0
		for id, token := range tokens {
			if strings.Contains(token, *search) {
				printToken(id, token)
				n++
			}
		}
		fmt.Printf("\n%d tokens contain %q\n", n, *search)

	case flag.NArg() > 1:
		args := flag.Args()[1:]
		if ids, ok := parseIDs(args); ok {
			for _, id := range ids {
				printToken(id, v.Token(id))
			}
			return
		}
		text := strings.Join(args, " ")
		var pieces []string
		if *chars {
			for _, r := range text {
				pieces = append(pieces, string(r))
			}
		} else {
			pieces = vocab.SplitWords(text)
		}
		oov := 0
		for _, p := range pieces {
			id := v.ID(p)
			if id == vocab.OOVID {
				oov++
			}
			fmt.Printf("%-24s -> %6d  %s\n", strconv.Quote(p), id, strconv.Quote(v.Token(id)))
		}
		fmt.Printf("\n%d of %d pieces out of vocabulary\n", oov, len(pieces))

	default:
		n := min(*limit, len(tokens))
		for i := 0; i < n; i++ {
			printToken(i, tokens[i])
		}
		if len(tokens) > 2*n {
			fmt.Printf("... (%d tokens) ...\n", len(tokens)-2*n)
		}
		for i := max(n, len(tokens)-n); i < len(tokens); i++ {
			printToken(i, tokens[i])
		}
	}
}

func parseIDs(args []string) ([]int, bool) {
	ids := make([]int, len(args))
	for i, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil {
			return nil, false
		}
		ids[i] = id
	}
	return ids, true
}

func printToken(id int, token string) {
	hexBytes := make([]string, 0, len(token))
	for _, b := range []byte(token) {
		hexBytes = append(hexBytes, fmt.Sprintf("%02x", b))
	}
	fmt.Printf("Token %6d | %-30s | bytes: %s\n", id, strconv.Quote(token), strings.Join(hexBytes, " "))
}
