package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"vidforge/internal/infra"
	"vidforge/internal/infra/credentials"
)

var envKeys = map[string]string{
	credentials.ProviderSora:   "SORA_API_KEY",
	credentials.ProviderVeo:    "VEO_API_KEY",
	credentials.ProviderRunway: "RUNWAY_API_KEY",
}

func main() {
	_ = godotenv.Load()

	var (
		keyFlag      string
		providerFlag string
		deleteFlag   bool
	)
	flag.StringVar(&keyFlag, "key", "", "API key for the selected provider (falls back to the provider's environment variable)")
	flag.StringVar(&providerFlag, "provider", "", "provider to configure ("+strings.Join(credentials.Known, ", ")+")")
	flag.BoolVar(&deleteFlag, "delete", false, "remove the stored key instead of setting it")
	flag.Parse()

	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	if !credentials.IsKnown(provider) {
		fmt.Fprintf(os.Stderr, "unsupported provider %q\n", providerFlag)
		os.Exit(1)
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv(envKeys[provider]))
	}
	if key == "" && !deleteFlag {
		fmt.Fprintf(os.Stderr, "%s API key is required via -key or %s\n", provider, envKeys[provider])
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" || strings.HasPrefix(dbURL, "sqlite:") {
		fmt.Fprintln(os.Stderr, "DATABASE_URL must point at PostgreSQL")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providerkey").Str("provider", provider).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if deleteFlag {
		removed, err := store.Delete(ctx, provider)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to delete %s api key: %v\n", provider, err)
			os.Exit(1)
		}
		if !removed {
			fmt.Printf("no %s API key was stored\n", provider)
			return
		}
		fmt.Printf("%s API key removed\n", provider)
		return
	}

	if err := store.Set(ctx, provider, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist %s api key: %v\n", provider, err)
		os.Exit(1)
	}

	fmt.Printf("%s API key stored successfully\n", provider)
}
