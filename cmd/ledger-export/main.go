// Command ledger-export streams settled orders into a gzipped JSONL file,
// one order per line, for downstream accounting systems. Exports are
// append-only snapshots; ledger-audit cross-checks them for duplicate
// external references.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-pay-core/internal/repository"
)

const exportSQL = `SELECT id, external_ref, payment_provider, amount, currency,
		COALESCE(invoice_number, ''), created_at
	FROM orders ORDER BY created_at`

func main() {
	var (
		databaseURL string
		outFile     string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&outFile, "out", "ledger.jsonl.gz", "output file path")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, outFile); err != nil {
		slog.Error("export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("export completed", slog.String("file", outFile))
}

func run(ctx context.Context, databaseURL, outFile string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	f, err := os.Create(outFile)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	defer f.Close()

	gz := pgzip.NewWriter(f)
	w := bufio.NewWriter(gz)

	rows, err := pool.Query(ctx, exportSQL)
	if err != nil {
		return errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	var (
		count int
		enc   jx.Encoder
	)
	for rows.Next() {
		var (
			id, ref, provider, currency, invoiceNumber string
			amount                                     decimal.Decimal
			createdAt                                  time.Time
		)
		if err := rows.Scan(&id, &ref, &provider, &amount, &currency, &invoiceNumber, &createdAt); err != nil {
			return errors.Wrap(err, "scan order")
		}

		enc.Reset()
		enc.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(id) })
			e.Field("externalRef", func(e *jx.Encoder) { e.Str(ref) })
			e.Field("provider", func(e *jx.Encoder) { e.Str(provider) })
			e.Field("amount", func(e *jx.Encoder) { e.Str(amount.StringFixed(2)) })
			e.Field("currency", func(e *jx.Encoder) { e.Str(currency) })
			if invoiceNumber != "" {
				e.Field("invoiceNumber", func(e *jx.Encoder) { e.Str(invoiceNumber) })
			}
			e.Field("createdAt", func(e *jx.Encoder) { e.Str(createdAt.UTC().Format(time.RFC3339)) })
		})

		if _, err := w.Write(enc.Bytes()); err != nil {
			return errors.Wrap(err, "write record")
		}
		if err := w.WriteByte('\n'); err != nil {
			return errors.Wrap(err, "write record")
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate orders")
	}

	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "close gzip")
	}

	slog.Info("orders exported", slog.Int("count", count))
	return nil
}
