package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/arscape/artifact-engine/internal/config"
	"github.com/arscape/artifact-engine/internal/mediastore"
	"github.com/arscape/artifact-engine/internal/storage"
)

// runCLI handles one-shot maintenance subcommands against the record store.
// Returns true when a subcommand ran (or failed) and the process should not
// start the engine loop.
func runCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch strings.ToLower(args[0]) {
	case "version":
		fmt.Printf("%s %s (built %s)\n", AppName, Version, BuildDate)
		return true
	case "history":
		cliExec(dumpHistory)
		return true
	case "artifacts":
		cliExec(dumpArtifacts)
		return true
	case "clearcache":
		cliExec(clearCache)
		return true
	default:
		return false
	}
}

func cliExec(fn func(storage.Backend, *mediastore.Store) error) {
	config.SetDefaults()
	if err := config.Load("."); err != nil {
		fmt.Fprintf(os.Stderr, "config not loaded, using defaults: %v\n", err)
	}

	media := mediastore.New(viper.GetString("cacheDir"))
	if err := media.EnsureDirs(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	sqlitePath := viper.GetString("storage.sqlitePath")
	if sqlitePath == "" {
		sqlitePath = media.RecordsPath()
	}
	store, err := storage.NewBackend(storage.Config{
		Backend:    viper.GetString("storage.backend"),
		SqlitePath: sqlitePath,
	}, storageConstructors(), zerolog.Nop())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if err := store.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := fn(store, media); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func dumpHistory(store storage.Backend, _ *mediastore.Store) error {
	entries, err := store.LoadHistory()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func dumpArtifacts(store storage.Backend, _ *mediastore.Store) error {
	descs, err := store.ListArtifacts()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(descs)
}

func clearCache(store storage.Backend, media *mediastore.Store) error {
	if err := store.DeleteArtifacts(); err != nil {
		return err
	}
	if err := media.Clear(); err != nil {
		return err
	}
	fmt.Println("Cache cleared.")
	return nil
}
