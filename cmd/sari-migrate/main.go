// Command sari-migrate applies sari's SQLite schema migration ladder to
// a workspace's database file outside of a running daemon, backing up
// the database before touching it.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/baecheolhan/sari/pkg/storage"
)

var (
	workspace  = flag.String("workspace", "", "Workspace root containing .sari/index.db")
	dbPathFlag = flag.String("db-path", "", "Explicit database path (overrides --workspace)")
	dryRun     = flag.Bool("dry-run", false, "Report the pending migration without applying it")
	backupPath = flag.String("backup", "", "Path to back up the database before migrating (default: <db>.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("sari Database Migration Tool")
	log.Println("============================")

	dbPath := *dbPathFlag
	if dbPath == "" {
		if *workspace == "" {
			log.Fatal("one of --db-path or --workspace is required")
		}
		abs, err := filepath.Abs(*workspace)
		if err != nil {
			log.Fatalf("resolving workspace path: %v", err)
		}
		dbPath = filepath.Join(abs, ".sari", "index.db")
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Printf("no database at %s yet; storage.Open will create a fresh one at the current schema version", dbPath)
	} else {
		reportCurrentVersion(dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Target schema version: %d", storage.CurrentSchemaVersion)
	log.Printf("Dry run: %v", *dryRun)

	if *dryRun {
		log.Println("\nDry run complete. No changes made. Run without --dry-run to migrate.")
		return
	}

	if _, err := os.Stat(dbPath); err == nil {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("failed to create backup: %v", err)
		}
		log.Println("backup created")
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	defer store.Close()

	log.Println("migration completed successfully")
}

// reportCurrentVersion opens a separate plain connection to the
// database and only reads from it (WAL journal mode is fine for a
// second connection), to log the pre-migration schema_version row
// without going through storage.Open's write path.
func reportCurrentVersion(dbPath string) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Printf("could not open %s for inspection: %v", dbPath, err)
		return
	}
	defer db.Close()

	var version int
	if err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		log.Printf("no schema_version row found (pre-v1 database or fresh file)")
		return
	}
	log.Printf("current schema version: %d", version)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	if err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return nil
}
