// migrate applies the embedded identities schema; use with go run ./cmd/migrate.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"identity-provisioning/internal/config"
	"identity-provisioning/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up, down or version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	st, err := migrate.Run(cfg.DatabaseURL, *direction)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	dirty := ""
	if st.Dirty {
		dirty = " (dirty)"
	}
	fmt.Printf("schema version %d%s\n", st.Version, dirty)
}
