package main

import (
	"log"
	"os"

	"github.com/gocarina/gocsv"

	"github.com/go-terse/terse/terse"
)

// widthCount is one row of the emitted CSV: how many blocks, across
// every frame of the input file, used a given per-value bit width.
type widthCount struct {
	Width  int   `csv:"width"`
	Blocks int64 `csv:"blocks"`
}

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		log.Fatal("error: a .terse input file must be specified")
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		log.Fatalf("error: could not open '%s': %s", os.Args[1], err)
	}
	defer f.Close()

	fs := terse.NewEmpty(terse.DefaultBlockSize)
	if err := fs.Read(f); err != nil {
		log.Fatalf("error: could not read '%s': %s", os.Args[1], err)
	}

	counts := make(map[int]int64)
	for k := 0; k < fs.FrameCount(); k++ {
		widths, err := terse.BlockWidths(fs, k)
		if err != nil {
			log.Fatalf("error: frame %d: %s", k, err)
		}
		for _, w := range widths {
			counts[w]++
		}
	}

	rows := make([]*widthCount, 0, len(counts))
	for w, n := range counts {
		rows = append(rows, &widthCount{Width: w, Blocks: n})
	}

	if err := gocsv.MarshalFile(&rows, os.Stdout); err != nil {
		log.Fatalf("error: writing histogram: %s", err)
	}
}
