// Package main backs up a bugbot SQLite store, checkpointing the WAL first
// and verifying integrity on the copy.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

func main() {
	var (
		dbPath     = flag.String("db", "", "source database path (required)")
		backupPath = flag.String("backup", "", "backup destination path (optional, auto-generated if not provided)")
		verify     = flag.Bool("verify", true, "run integrity check on backup")
		checkpoint = flag.Bool("checkpoint", true, "run checkpoint before backup to merge WAL")
	)
	flag.Parse()

	if *dbPath == "" {
		die("--db path is required")
	}

	*dbPath = expandPath(*dbPath)

	if *backupPath == "" {
		timestamp := time.Now().Format("20060102-150405")
		base := strings.TrimSuffix(filepath.Base(*dbPath), filepath.Ext(*dbPath))
		*backupPath = fmt.Sprintf("%s-backup-%s.db", base, timestamp)
	}
	*backupPath = expandPath(*backupPath)

	fmt.Printf("bugbot store backup\n")
	fmt.Printf("Source: %s\n", *dbPath)
	fmt.Printf("Destination: %s\n", *backupPath)

	if err := os.MkdirAll(filepath.Dir(*backupPath), 0o755); err != nil {
		die("create backup directory: %v", err)
	}

	db, err := sql.Open("sqlite", *dbPath+"?mode=ro")
	if err != nil {
		die("open source database: %v", err)
	}
	defer db.Close()

	if *checkpoint {
		fmt.Printf("Running WAL checkpoint...\n")
		if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Printf("Warning: checkpoint failed: %v\n", err)
		}
	}

	fmt.Printf("Creating backup...\n")
	start := time.Now()

	if err := performBackup(*dbPath, *backupPath); err != nil {
		die("backup failed: %v", err)
	}

	fmt.Printf("Backup completed in %v\n", time.Since(start))

	if *verify {
		fmt.Printf("Verifying backup integrity...\n")
		if err := verifyBackup(*backupPath); err != nil {
			die("backup verification failed: %v", err)
		}
		fmt.Printf("Backup verification successful\n")
	}

	if info, err := os.Stat(*backupPath); err == nil {
		fmt.Printf("Backup size: %d bytes (%.2f MB)\n", info.Size(), float64(info.Size())/1024/1024)
	}

	fmt.Printf("backup completed successfully\n")
}

func performBackup(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source: %v", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create destination: %v", err)
	}
	defer dst.Close()

	buf := make([]byte, 1024*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write: %v", werr)
			}
		}
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			return fmt.Errorf("read: %v", err)
		}
	}

	return dst.Sync()
}

func verifyBackup(backupPath string) error {
	db, err := sql.Open("sqlite", backupPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open backup: %v", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query: %v", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	tables := []string{"scans", "validation_jobs", "pause_requests", "monitors"}
	for _, table := range tables {
		var count int
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
		if err := db.QueryRow(query).Scan(&count); err != nil {
			fmt.Printf("Warning: could not count rows in %s: %v\n", table, err)
		} else {
			fmt.Printf("Verified table %s: %d rows\n", table, count)
		}
	}

	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
