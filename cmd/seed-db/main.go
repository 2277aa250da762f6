// Command seed-db prepares a database for local development and integration
// tests: it runs migrations, registers an API key, and optionally creates a
// pending draft to settle against.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/oolio-pay-core/internal/repository"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
		demoRef      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or PAYCORE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PAYCORE_API_KEY_PEPPER env)")
	flag.StringVar(&demoRef, "demo-ref", "", "optional external reference for a demo pending draft")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("PAYCORE_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or PAYCORE_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PAYCORE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper, demoRef); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper, demoRef string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	_, err = pool.Exec(ctx, `INSERT INTO api_keys (id, key_hash, name, scopes)
		VALUES ($1, $2, 'seed', '{settle,invoice}')
		ON CONFLICT (key_hash) DO NOTHING`,
		uuid.New().String(), keyHash,
	)
	if err != nil {
		return errors.Wrap(err, "seed api key")
	}
	slog.Info("api key seeded")

	if demoRef != "" {
		_, err = pool.Exec(ctx, `INSERT INTO drafts
			(id, external_ref, status, provider, amount, currency, payload)
			VALUES ($1, $2, 'pending', 'demo', 42.50, 'USD', '{"items":[{"name":"Margherita","qty":1}]}')
			ON CONFLICT (external_ref) DO NOTHING`,
			uuid.New().String(), demoRef,
		)
		if err != nil {
			return errors.Wrap(err, "seed demo draft")
		}
		slog.Info("demo draft seeded", slog.String("external_ref", demoRef))
	}

	return nil
}
