package main

// dataset_gen.go generates deterministic (type_id, vptr) traces for
// standalone load-testing of cfi-vcache (outside `go test`). It emits
// tab-separated hex pairs, one per line, suitable for replay by a custom
// harness calling vcache.CfiVcallValidation directly.
//
// Usage:
//   go run ./tools/dataset_gen -n 1000000 -dist=zipf -seed=42 -out trace.tsv
//
// Flags:
//   -n       number of pairs to generate (default 1e6)
//   -dist    vptr distribution: "uniform" or "zipf" (default zipf)
//   -ntypes  number of distinct type_id values to draw from (default 64)
//   -zipfs   Zipf s parameter (>1)  (default 1.2)
//   -zipfv   Zipf v parameter (>=1) (default 1.0)
//   -seed    RNG seed (default current time)
//   -out     output file (default stdout)
//
// A CFI vcall trace is naturally skewed: a small number of virtual-dispatch
// sites (vptr values) account for most calls at runtime, so zipf is the
// default distribution here rather than uniform, and each line carries a
// (type_id, vptr) pair — type_id is drawn uniformly from a small pool to
// mimic a bounded number of class hierarchies sharing the same dispatch
// sites.

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
	var (
		n       = flag.Int("n", 1_000_000, "number of (type_id, vptr) pairs to generate")
		dist    = flag.String("dist", "zipf", "vptr distribution: uniform or zipf")
		nTypes  = flag.Int("ntypes", 64, "number of distinct type_id values")
		zipfS   = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV   = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		seedVal = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	if *nTypes <= 0 {
		fmt.Fprintln(os.Stderr, "ntypes must be > 0")
		os.Exit(1)
	}

	rnd := rand.New(rand.NewSource(*seedVal))

	types := make([]uint64, *nTypes)
	for i := range types {
		types[i] = rnd.Uint64()
	}

	var vptrGen func() uint64
	switch *dist {
	case "uniform":
		vptrGen = rnd.Uint64
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1.0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, ^uint64(0))
		vptrGen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		typeID := types[rnd.Intn(len(types))]
		vptr := vptrGen()
		fmt.Fprintf(w, "%x\t%x\n", typeID, vptr)
	}
}
