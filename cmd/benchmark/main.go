package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"wundradb/pkg/config"
	"wundradb/pkg/core"
)

func main() {
	dir := flag.String("dir", "", "Data directory (temporary if empty)")
	nOps := flag.Int("n", 5000, "Number of operations per run")
	syncMode := flag.String("sync", "always", "WAL sync mode: always|batch|never")
	flag.Parse()

	workDir := *dir
	if workDir == "" {
		tmp, err := os.MkdirTemp("", "wundra-bench-")
		if err != nil {
			log.Fatalf("Temp dir failed: %v", err)
		}
		defer os.RemoveAll(tmp)
		workDir = tmp
	}

	fmt.Printf("WundraDB Storage Benchmark (N=%d, sync=%s)\n", *nOps, *syncMode)
	fmt.Printf("  dir=%s\n", workDir)
	fmt.Println("---------------------------------------------------")

	fmt.Println(">> Starting WundraDB Benchmark (B+Tree + WAL)...")
	wundraDur := runWundraBenchmark(filepath.Join(workDir, "wundra"), *syncMode, *nOps)
	fmt.Printf("   WundraDB Time: %v | QPS: %.0f\n\n", wundraDur, float64(*nOps)/wundraDur.Seconds())

	fmt.Println(">> Starting SQLite Benchmark (baseline)...")
	sqliteDur := runSQLiteBenchmark(filepath.Join(workDir, "bench.sqlite"), *nOps)
	fmt.Printf("   SQLite   Time: %v | QPS: %.0f\n", sqliteDur, float64(*nOps)/sqliteDur.Seconds())

	fmt.Println("---------------------------------------------------")
	ratio := sqliteDur.Seconds() / wundraDur.Seconds()
	fmt.Printf("Conclusion: WundraDB is %.2fx the speed of SQLite on this workload.\n", ratio)
}

func runWundraBenchmark(dir, syncMode string, n int) time.Duration {
	conf := &config.Config{
		Storage: config.StorageConfig{
			Path:              dir,
			SnapshotThreshold: 100000,
			WALSyncMode:       syncMode,
			LeafCapacity:      64,
			BranchCapacity:    64,
			BlockSize:         4096,
		},
	}
	engine, err := core.Open(conf)
	if err != nil {
		log.Fatalf("Open failed: %v", err)
	}
	defer engine.Close()

	val := []byte("bench_data")
	start := time.Now()
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key%08d", i))
		if err := engine.Put("bench", key, val); err != nil {
			log.Fatalf("Put failed: %v", err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key%08d", i))
		if _, ok := engine.Get("bench", key); !ok {
			log.Fatalf("Get failed: key%08d not found", i)
		}
	}
	return time.Since(start)
}

func runSQLiteBenchmark(path string, n int) time.Duration {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		log.Fatalf("SQLite open failed: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS bench (k TEXT PRIMARY KEY, v BLOB)`); err != nil {
		log.Fatalf("SQLite create failed: %v", err)
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key%08d", i)
		if _, err := db.Exec(`INSERT OR REPLACE INTO bench (k, v) VALUES (?, ?)`, key, []byte("bench_data")); err != nil {
			log.Fatalf("SQLite insert failed: %v", err)
		}
	}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key%08d", i)
		var v []byte
		if err := db.QueryRow(`SELECT v FROM bench WHERE k = ?`, key).Scan(&v); err != nil {
			log.Fatalf("SQLite select failed: %v", err)
		}
	}
	return time.Since(start)
}
