package main

// main.go implements the cfi-vcache inspector CLI: it fetches the debug
// snapshot exposed by a running validator's HTTP endpoint and prints it
// either as pretty text or JSON, optionally resolving vptr values to symbol
// names via a concurrent, deduplicated resolver.
//
// The target Go service is expected to expose:
//   • GET /debug/cfi-vcache/snapshot – JSON payload, see pkg.Snapshot.
//
// Watch mode issues overlapping resolution requests for the same hot vptrs
// every tick; resolution is deduplicated with singleflight so those don't
// pay for the same lookup twice concurrently.

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"
)

type options struct {
	target   string
	json     bool
	watch    bool
	interval time.Duration
	resolve  bool
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.target, "target", "http://localhost:8080", "base URL of the instrumented process")
	flag.BoolVar(&opts.json, "json", false, "emit raw JSON instead of a formatted table")
	flag.BoolVar(&opts.watch, "watch", false, "poll continuously")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "poll interval in watch mode")
	flag.BoolVar(&opts.resolve, "resolve-symbols", false, "resolve vptr values against /debug/cfi-vcache/symbols")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	resolver := newSymbolResolver(opts.target)

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts, resolver); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts, resolver); err != nil {
		fatal(err)
	}
}

func dumpOnce(ctx context.Context, opts *options, resolver *symbolResolver) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}

	if opts.resolve {
		annotateSymbols(ctx, resolver, snap)
	}

	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

// annotateSymbols resolves the vptr of every record_sample entry in snap and
// stores the result back into that entry under "symbol". The vtable a record
// entry points into is frequently shared across several type_ids (distinct
// base classes sharing an override), so the same vptr can legitimately show
// up more than once in one sample; entries are resolved concurrently and
// share resolver's singleflight group, so those duplicates cost one lookup.
func annotateSymbols(ctx context.Context, resolver *symbolResolver, snap map[string]any) {
	sample, ok := snap["record_sample"].([]any)
	if !ok {
		return
	}

	var wg sync.WaitGroup
	for _, entry := range sample {
		row, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		vptrF, ok := row["vptr"].(float64)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(row map[string]any, vptr uint64) {
			defer wg.Done()
			symbol, err := resolver.Resolve(ctx, vptr)
			if err != nil {
				return
			}
			row["symbol"] = symbol
		}(row, uint64(vptrF))
	}
	wg.Wait()
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/cfi-vcache/snapshot"
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("Verify items:       %v\n", data["verify_items"])
	fmt.Printf("Record items:       %v\n", data["record_items"])
	fmt.Printf("Verify generation:  %v (oldest) .. %v (newest)\n", data["verify_oldest_generation"], data["verify_newest_generation"])
	fmt.Printf("Miss counter:       %v / %v\n", data["miss_counter"], data["migrate_threshold"])

	sample, _ := data["record_sample"].([]any)
	if len(sample) == 0 {
		return nil
	}
	fmt.Printf("Record sample (%d):\n", len(sample))
	for _, entry := range sample {
		row, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if symbol, ok := row["symbol"].(string); ok && symbol != "" {
			fmt.Printf("  type=%v vptr=%v freq=%v  %s\n", row["type_id"], row["vptr"], row["frequency"], symbol)
			continue
		}
		fmt.Printf("  type=%v vptr=%v freq=%v\n", row["type_id"], row["vptr"], row["frequency"])
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "cfi-vcache-inspect:", err)
	os.Exit(1)
}

// symbolResolver resolves a vptr to a human-readable symbol name by asking
// the target's /debug/cfi-vcache/symbols?vptr= endpoint, deduplicating
// concurrent lookups for the same vptr via singleflight. Watch mode and any
// future concurrent callers in this binary share one resolver instance.
type symbolResolver struct {
	target string
	group  singleflight.Group
}

func newSymbolResolver(target string) *symbolResolver {
	return &symbolResolver{target: target}
}

// Resolve returns the symbol name for vptr, or vptr formatted as hex if the
// target has no symbol information (or resolution is disabled/unsupported).
func (r *symbolResolver) Resolve(ctx context.Context, vptr uint64) (string, error) {
	key := fmt.Sprintf("%x", vptr)
	v, err, _ := r.group.Do(key, func() (any, error) {
		url := fmt.Sprintf("%s/debug/cfi-vcache/symbols?vptr=%d", r.target, vptr)
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Sprintf("0x%x", vptr), nil
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return fmt.Sprintf("0x%x", vptr), nil
		}
		var body struct {
			Symbol string `json:"symbol"`
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Symbol == "" {
			return fmt.Sprintf("0x%x", vptr), nil
		}
		return body.Symbol, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
