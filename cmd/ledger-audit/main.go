// Command ledger-audit scans ledger export files for external references
// that appear more than once — each would be a double-settled payment, which
// the settlement transaction is designed to make impossible.
//
// Exports can hold hundreds of millions of lines, so the audit avoids an
// exact in-memory set of every reference. Pass 1 builds one bloom filter per
// file concurrently. Pass 2 screens every reference against the other files'
// filters (plus a per-file filter for intra-file repeats) to collect a small
// candidate set. Pass 3 counts the candidates exactly; only refs with an
// exact count of two or more are reported.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

const (
	bloomCapacity = 100_000_000
	bloomFPR      = 0.001
)

func main() {
	flag.Parse()
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("usage: ledger-audit <export.jsonl.gz> [more exports...]")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	dups, err := run(ctx, files)
	if err != nil {
		slog.Error("audit failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if len(dups) == 0 {
		slog.Info("audit passed: no duplicate external references")
		return
	}
	for ref, n := range dups {
		fmt.Printf("%s\t%d\n", ref, n)
	}
	slog.Error("audit failed: duplicate external references found", slog.Int("count", len(dups)))
	os.Exit(2)
}

func run(ctx context.Context, files []string) (map[string]int, error) {
	// Pass 1: one bloom filter per file, built concurrently.
	filters := make([]*bloom.BloomFilter, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, file := range files {
		g.Go(func() error {
			f := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			err := scanRefs(gctx, file, func(ref string) {
				f.AddString(ref)
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", file)
			}
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Pass 2: collect candidate refs. A ref is a candidate when another
	// file's filter may contain it, or when it repeats within its own file.
	candidates := make(map[string]struct{})
	for i, file := range files {
		local := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		err := scanRefs(ctx, file, func(ref string) {
			if local.TestAndAddString(ref) {
				candidates[ref] = struct{}{}
				return
			}
			for j, f := range filters {
				if j != i && f.TestString(ref) {
					candidates[ref] = struct{}{}
					return
				}
			}
		})
		if err != nil {
			return nil, errors.Wrapf(err, "screen %s", file)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Pass 3: exact counts for the candidate set only. Bloom false
	// positives fall out here with a count of one.
	counts := make(map[string]int, len(candidates))
	for _, file := range files {
		err := scanRefs(ctx, file, func(ref string) {
			if _, ok := candidates[ref]; ok {
				counts[ref]++
			}
		})
		if err != nil {
			return nil, errors.Wrapf(err, "count %s", file)
		}
	}

	dups := make(map[string]int)
	for ref, n := range counts {
		if n >= 2 {
			dups[ref] = n
		}
	}
	return dups, nil
}

// scanRefs streams a gzipped JSONL export and calls fn with the externalRef
// of every record.
func scanRefs(ctx context.Context, file string, fn func(ref string)) error {
	f, err := os.Open(file)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer gz.Close()

	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<20)

	var line int
	for sc.Scan() {
		line++
		if line%1_000_000 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		ref, err := extractRef(sc.Bytes())
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if ref != "" {
			fn(ref)
		}
	}
	return errors.Wrap(sc.Err(), "scan")
}

// extractRef pulls the externalRef field out of one export line.
func extractRef(line []byte) (string, error) {
	var ref string
	d := jx.DecodeBytes(line)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "externalRef" {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		ref = v
		return nil
	})
	return ref, err
}
