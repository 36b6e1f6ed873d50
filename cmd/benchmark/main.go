package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"

	"github.com/PailletJuanPablo/hyperiondb/pkg/client"
)

var cities = []string{"Berlin", "Paris", "Rome", "Oslo", "Madrid", "Lisbon", "Vienna", "Prague"}

func main() {
	addr := flag.String("addr", "localhost:8080", "HyperionDB TCP server address")
	nDocs := flag.Int("n", 50000, "Number of documents to load")
	batchSize := flag.Int("batch", 500, "Documents per INSERT_OR_UPDATE_MANY batch")
	nQueries := flag.Int("q", 1000, "Number of queries to run")
	flag.Parse()

	fmt.Printf("HyperionDB Benchmark (docs=%d, batch=%d, queries=%d)\n", *nDocs, *batchSize, *nQueries)
	fmt.Printf("  Target: %s\n", *addr)
	fmt.Println("---------------------------------------------------")

	cli, err := client.Dial(*addr)
	if err != nil {
		log.Fatalf("Connect failed: %v", err)
	}
	defer cli.Close()

	fmt.Println(">> Bulk load via INSERT_OR_UPDATE_MANY...")
	loadDuration := runBulkLoad(cli, *nDocs, *batchSize)
	fmt.Printf("   Load Time: %v | Docs/s: %.0f\n\n", loadDuration, float64(*nDocs)/loadDuration.Seconds())

	fmt.Println(">> Point GETs...")
	getDuration := runGets(cli, *nDocs, *nQueries)
	fmt.Printf("   GET  Time: %v | QPS: %.0f\n\n", getDuration, float64(*nQueries)/getDuration.Seconds())

	fmt.Println(">> Indexed condition queries...")
	runQueries(cli, *nQueries)
}

func runBulkLoad(cli *client.Client, n, batchSize int) time.Duration {
	start := time.Now()

	for base := 0; base < n; base += batchSize {
		end := base + batchSize
		if end > n {
			end = n
		}
		tuples := make([]client.Tuple, 0, end-base)
		for i := base; i < end; i++ {
			tuples = append(tuples, client.Tuple{
				Key: fmt.Sprintf("bench:%d", i),
				Doc: map[string]any{
					"city":  cities[i%len(cities)],
					"age":   18 + rand.Intn(60),
					"score": rand.Float64() * 100,
				},
			})
		}
		if err := cli.InsertOrUpdateMany(tuples); err != nil {
			log.Fatalf("Batch at %d failed: %v", base, err)
		}
		if base > 0 && base%(batchSize*20) == 0 {
			fmt.Printf("   ... %d/%d\n", base, n)
		}
	}
	return time.Since(start)
}

func runGets(cli *client.Client, nDocs, n int) time.Duration {
	start := time.Now()
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("bench:%d", rand.Intn(nDocs))
		if _, err := cli.Get(key); err != nil {
			log.Fatalf("GET %s failed: %v", key, err)
		}
	}
	return time.Since(start)
}

func runQueries(cli *client.Client, n int) {
	conditions := []string{
		"city = Berlin",
		"age > 60",
		"city = Paris AND age >= 40",
		"city = Oslo OR city = Rome AND age < 30",
	}

	for _, condition := range conditions {
		latencies := make([]time.Duration, 0, n)
		matched := 0
		for i := 0; i < n; i++ {
			start := time.Now()
			docs, err := cli.Query(condition)
			if err != nil {
				log.Fatalf("QUERY %q failed: %v", condition, err)
			}
			latencies = append(latencies, time.Since(start))
			matched = len(docs)
		}
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		p50 := latencies[len(latencies)/2]
		p99 := latencies[len(latencies)*99/100]
		fmt.Printf("   %-45q matched=%-6d p50=%-10v p99=%v\n", condition, matched, p50, p99)
	}
}
