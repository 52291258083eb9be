package main

import (
	"fmt"
	"log"
	"time"

	"wundradb/pkg/config"
	"wundradb/pkg/core"
)

func main() {
	fmt.Println("Opening WundraDB...")
	conf, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	engine, err := core.Open(conf)
	if err != nil {
		log.Fatalf("Failed to open engine: %v", err)
	}

	fmt.Println("Writing: users/1=Alice, users/2=Bob")
	start := time.Now()
	if err := engine.Put("users", []byte("1"), []byte("Alice")); err != nil {
		log.Fatalf("Put failed: %v", err)
	}
	if err := engine.Put("users", []byte("2"), []byte("Bob")); err != nil {
		log.Fatalf("Put failed: %v", err)
	}
	fmt.Printf("Puts done in %v\n", time.Since(start))

	start = time.Now()
	val, ok := engine.Get("users", []byte("1"))
	if !ok {
		log.Fatal("Get failed: users/1 not found")
	}
	fmt.Printf("Got Value: %s (in %v)\n", string(val), time.Since(start))

	fmt.Println("Deleting users/1...")
	if err := engine.Delete("users", []byte("1")); err != nil {
		log.Fatalf("Delete failed: %v", err)
	}

	fmt.Println("Scanning users [1, 9]...")
	sc := engine.Scan("users", []byte("1"), []byte("9"))
	for sc.Next() {
		fmt.Printf("  %s = %s\n", sc.Key(), sc.Value())
	}

	if err := engine.Close(); err != nil {
		log.Fatalf("Close failed: %v", err)
	}

	// Reopen to prove the data survived the restart.
	fmt.Println("Reopening...")
	engine, err = core.Open(conf)
	if err != nil {
		log.Fatalf("Failed to reopen engine: %v", err)
	}
	defer engine.Close()

	val, ok = engine.Get("users", []byte("2"))
	if !ok {
		log.Fatal("users/2 lost across restart")
	}
	fmt.Printf("After restart: users/2 = %s\n", string(val))
	fmt.Printf("Stats: %v\n", engine.Stats())
}
