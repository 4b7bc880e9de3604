// Command gguf-inspect inspects GGUF model files
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gonum.org/v1/gonum/floats"

	"github.com/lth/go-matchlstm/internal/gguf"
)

var (
	allTensors = flag.Bool("all", false, "List every tensor instead of the first 20")
	stats      = flag.Bool("stats", false, "Print min/max/mean of every listed tensor")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <model.gguf>\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	path := flag.Arg(0)

	reader, err := gguf.Open(path)
	if err != nil {
		log.Fatalf("Failed to open GGUF file: %v", err)
	}
	defer reader.Close()

	header := reader.Header()
	fmt.Printf("GGUF File: %s\n", path)
	fmt.Printf("Version: %d\n", header.Version)
	fmt.Printf("Tensor Count: %d\n", header.TensorCount)
	fmt.Printf("Metadata KV Count: %d\n\n", header.MetadataKVSize)

	fmt.Println("=== Metadata ===")
	for _, key := range reader.MetadataKeys() {
		printMetadata(reader, key)
	}
	fmt.Println()

	fmt.Println("=== Tensors ===")
	tensors := reader.ListTensors()
	total := 0
	for _, name := range tensors {
		desc, _ := reader.GetTensor(name)
		total += desc.NumElements()
	}
	fmt.Printf("Total: %d tensors, %d parameters\n\n", len(tensors), total)

	for i, name := range tensors {
		if !*allTensors && i >= 20 {
			fmt.Printf("... and %d more tensors (use -all)\n", len(tensors)-20)
			break
		}

		desc, _ := reader.GetTensor(name)
		fmt.Printf("%-40s  dtype=%-4s  shape=%-12v  size=%d bytes",
			name, desc.DType, desc.Shape, desc.Size)
		if *stats {
			if line, err := tensorStats(reader, name); err != nil {
				fmt.Printf("  (%v)", err)
			} else {
				fmt.Printf("  %s", line)
			}
		}
		fmt.Println()
	}
}

func printMetadata(r *gguf.Reader, key string) {
	val, ok := r.GetMetadata(key)
	if !ok {
		return
	}
	switch v := val.(type) {
	case []interface{}:
		if len(v) > 8 {
			fmt.Printf("%-36s: [%d items] %v ...\n", key, len(v), v[:8])
		} else {
			fmt.Printf("%-36s: %v\n", key, v)
		}
	default:
		fmt.Printf("%-36s: %v\n", key, v)
	}
}

func tensorStats(r *gguf.Reader, name string) (string, error) {
	data, _, err := r.Float64s(name)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "empty", nil
	}
	mean := floats.Sum(data) / float64(len(data))
	return fmt.Sprintf("min=%.4g max=%.4g mean=%.4g", floats.Min(data), floats.Max(data), mean), nil
}
