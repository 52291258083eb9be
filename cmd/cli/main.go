package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"wundradb/pkg/config"
	"wundradb/pkg/core"
)

const Prompt = "wundra> "

func main() {
	confPath := flag.String("config", "", "Config file path (default search: configs/wundra.yaml)")
	flag.Parse()

	conf, err := config.Load(*confPath)
	if err != nil {
		fmt.Printf("Config failed: %v\n", err)
		return
	}

	fmt.Printf("WundraDB CLI (data: %s)\n", conf.Storage.Path)
	engine, err := core.Open(conf)
	if err != nil {
		fmt.Printf("Open failed: %v\n", err)
		return
	}
	defer engine.Close()
	fmt.Println("Ready! Type 'help' for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(Prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "put", "set":
			handlePut(engine, parts)
		case "get":
			handleGet(engine, parts)
		case "del", "rm":
			handleDel(engine, parts)
		case "scan":
			handleScan(engine, parts)
		case "tables":
			fmt.Printf("%v\n", engine.Tables())
		case "stats":
			for k, v := range engine.Stats() {
				fmt.Printf("  %s: %v\n", k, v)
			}
		case "help":
			printHelp()
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Printf("Unknown command: '%s'. Type 'help'.\n", cmd)
		}
	}
}

func handlePut(engine *core.Engine, parts []string) {
	if len(parts) < 4 {
		fmt.Println("Usage: put <table> <key> <value>")
		return
	}

	value := strings.Join(parts[3:], " ")

	start := time.Now()
	err := engine.Put(parts[1], []byte(parts[2]), []byte(value))
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("OK (%v)\n", duration)
	}
}

func handleGet(engine *core.Engine, parts []string) {
	if len(parts) < 3 {
		fmt.Println("Usage: get <table> <key>")
		return
	}

	start := time.Now()
	val, ok := engine.Get(parts[1], []byte(parts[2]))
	duration := time.Since(start)

	if !ok {
		fmt.Printf("(not found) (%v)\n", duration)
	} else {
		fmt.Printf("\"%s\" (%v)\n", string(val), duration)
	}
}

func handleDel(engine *core.Engine, parts []string) {
	if len(parts) < 3 {
		fmt.Println("Usage: del <table> <key>")
		return
	}

	start := time.Now()
	err := engine.Delete(parts[1], []byte(parts[2]))
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("Deleted (%v)\n", duration)
	}
}

func handleScan(engine *core.Engine, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: scan <table> [start_key] [end_key]")
		return
	}

	var startKey, endKey []byte
	if len(parts) >= 3 {
		startKey = []byte(parts[2])
	}
	if len(parts) >= 4 {
		endKey = []byte(parts[3])
	}

	start := time.Now()
	sc := engine.Scan(parts[1], startKey, endKey)
	count := 0
	for sc.Next() {
		if count < 20 {
			fmt.Printf("  [%s] -> %s\n", sc.Key(), string(sc.Value()))
		}
		count++
	}
	duration := time.Since(start)

	if count > 20 {
		fmt.Printf("... and %d more\n", count-20)
	}
	fmt.Printf("Found %d records (%v)\n", count, duration)
}

func printHelp() {
	fmt.Println(`
Commands:
  put <table> <key> <value>       Insert/Update record
  get <table> <key>               Retrieve record
  del <table> <key>               Delete record
  scan <table> [start] [end]      Range query (inclusive)
  tables                          List tables
  stats                           Engine counters
  exit                            Exit CLI
	`)
}
