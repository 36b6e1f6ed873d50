package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PailletJuanPablo/hyperiondb/pkg/client"
	"github.com/PailletJuanPablo/hyperiondb/pkg/document"
)

const Prompt = "hyperion> "

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "HyperionDB TCP server address")
	flag.Parse()

	fmt.Printf("HyperionDB CLI (Target: %s)\n", *serverAddr)
	fmt.Println("Connecting...")

	cli, err := client.Dial(*serverAddr)
	if err != nil {
		fmt.Printf("Connection failed: %v\n", err)
		fmt.Println("Tip: Ensure the server is running (e.g. go run ./cmd/server serve).")
		return
	}
	defer cli.Close()
	fmt.Println("Connected! Type 'help' for commands.")

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
		case "insert", "set":
			handleInsert(cli, line, parts, false)
		case "upsert":
			handleInsert(cli, line, parts, true)
		case "get":
			handleGet(cli, parts)
		case "update":
			handleUpdate(cli, line, parts)
		case "del", "rm":
			handleDelete(cli, parts)
		case "delwhere":
			handleDeleteWhere(cli, line)
		case "query", "find":
			handleQuery(cli, line)
		case "list", "ls":
			handleList(cli)
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

func jsonArg(line string, skipTokens int) (string, bool) {
	rest := line
	for i := 0; i < skipTokens; i++ {
		j := strings.IndexByte(rest, ' ')
		if j < 0 {
			return "", false
		}
		rest = strings.TrimSpace(rest[j+1:])
	}
	return rest, rest != ""
}

func handleInsert(cli *client.Client, line string, parts []string, merge bool) {
	raw, ok := jsonArg(line, 2)
	if len(parts) < 3 || !ok {
		fmt.Println("Usage: insert <key> <json>")
		return
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		fmt.Printf("Error: invalid JSON: %v\n", err)
		return
	}

	start := time.Now()
	var err error
	if merge {
		err = cli.InsertOrUpdate(parts[1], doc)
	} else {
		err = cli.Insert(parts[1], doc)
	}
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("OK (%v)\n", duration)
	}
}

func handleGet(cli *client.Client, parts []string) {
	if len(parts) != 2 {
		fmt.Println("Usage: get <key>")
		return
	}

	start := time.Now()
	doc, err := cli.Get(parts[1])
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	pretty, _ := json.MarshalIndent(doc, "", "  ")
	fmt.Printf("%s (%v)\n", pretty, duration)
}

func handleUpdate(cli *client.Client, line string, parts []string) {
	raw, ok := jsonArg(line, 2)
	if len(parts) < 3 || !ok {
		fmt.Println("Usage: update <key> <jsonPatch>")
		return
	}
	var patch map[string]any
	if err := json.Unmarshal([]byte(raw), &patch); err != nil {
		fmt.Printf("Error: invalid JSON: %v\n", err)
		return
	}

	start := time.Now()
	err := cli.Update(parts[1], patch)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("OK (%v)\n", duration)
	}
}

func handleDelete(cli *client.Client, parts []string) {
	if len(parts) != 2 {
		fmt.Println("Usage: del <key>")
		return
	}

	start := time.Now()
	err := cli.Delete(parts[1])
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("Deleted (%v)\n", duration)
	}
}

func handleDeleteWhere(cli *client.Client, line string) {
	condition, ok := jsonArg(line, 1)
	if !ok {
		fmt.Println("Usage: delwhere <condition>")
		return
	}

	start := time.Now()
	n, err := cli.DeleteWhere(condition)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Deleted %d documents (%v)\n", n, duration)
}

func handleQuery(cli *client.Client, line string) {
	condition, ok := jsonArg(line, 1)
	if !ok {
		fmt.Println("Usage: query <condition>   e.g. query city = Berlin AND age > 28")
		return
	}

	start := time.Now()
	docs, err := cli.Query(condition)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printDocs(docs, duration)
}

func handleList(cli *client.Client) {
	start := time.Now()
	docs, err := cli.List()
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printDocs(docs, duration)
}

func printDocs(docs []document.Document, duration time.Duration) {
	fmt.Printf("Found %d documents (%v):\n", len(docs), duration)
	for i, doc := range docs {
		if i >= 20 {
			fmt.Printf("... and %d more\n", len(docs)-20)
			break
		}
		data, _ := json.Marshal(doc)
		fmt.Printf("  %s\n", data)
	}
}

func printHelp() {
	fmt.Println(`
Commands:
  insert <key> <json>      Insert/replace document
  upsert <key> <json>      Insert or shallow-merge document
  get <key>                Retrieve document
  update <key> <json>      Merge patch into existing document
  del <key>                Delete by key
  delwhere <condition>     Delete all matching documents
  query <condition>        Find matching documents
  list                     List all documents
  exit                     Exit CLI
	`)
}
