// Command keygen generates gateway API keys in the sk-<env>-<hex> format,
// checks existing keys against that format and optionally stores the hashes
// in a key store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"pulse/internal/models"
	"pulse/internal/storage"
)

type options struct {
	count     int
	env       string
	name      string
	check     string
	showHash  bool
	storeType string
	dsn       string
}

func main() {
	var opts options
	flag.IntVar(&opts.count, "count", 1, "Number of keys to generate")
	flag.StringVar(&opts.env, "env", "dev", "Environment tag embedded in the key (e.g. dev, prod, test)")
	flag.StringVar(&opts.name, "name", "generated", "Name recorded with stored keys")
	flag.StringVar(&opts.check, "check", "", "Validate the format of an existing key and print its hash")
	flag.BoolVar(&opts.showHash, "hash", false, "Print the SHA-256 hash next to each key")
	flag.StringVar(&opts.storeType, "store", "", "Key store to insert the generated keys into (memory, json, sqlite, postgres)")
	flag.StringVar(&opts.dsn, "dsn", "", "Key store DSN or file path")
	flag.Parse()

	if err := run(context.Background(), os.Stdout, opts); err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, opts options) error {
	if opts.check != "" {
		return checkKey(out, opts.check)
	}
	if opts.count < 1 {
		return errors.New("count must be at least 1")
	}

	keys, err := models.GenerateAPIKeys(opts.count, opts.env)
	if err != nil {
		return err
	}
	if !models.IsValidAPIKeyFormat(keys[0]) {
		return fmt.Errorf("environment %q produces keys that do not match the key format", opts.env)
	}

	if opts.storeType != "" {
		if err := storeKeys(ctx, opts, keys); err != nil {
			return err
		}
	}

	for _, k := range keys {
		if opts.showHash {
			fmt.Fprintf(out, "%s %s\n", k, models.HashAPIKey(k))
		} else {
			fmt.Fprintln(out, k)
		}
	}
	return nil
}

func checkKey(out io.Writer, key string) error {
	if !models.IsValidAPIKeyFormat(key) {
		return fmt.Errorf("%s does not match sk-<env>-<48 hex>", models.KeyPrefix(key))
	}
	fmt.Fprintf(out, "valid %s\n", models.HashAPIKey(key))
	return nil
}

func storeKeys(ctx context.Context, opts options, keys []string) error {
	store, err := storage.NewFactory().Create(models.KeyStoreConfig{Type: opts.storeType, DSN: opts.dsn})
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	if store == nil {
		return fmt.Errorf("key store type %q does not persist keys", opts.storeType)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for i, k := range keys {
		name := opts.name
		if len(keys) > 1 {
			name = fmt.Sprintf("%s-%d", opts.name, i+1)
		}
		if err := store.CreateAPIKey(ctx, models.NewAPIKey(models.NewKeyID(), name, k)); err != nil {
			return fmt.Errorf("store key %s: %w", models.KeyPrefix(k), err)
		}
	}
	return nil
}
