package network

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/PailletJuanPablo/hyperiondb/pkg/client"
	"github.com/PailletJuanPablo/hyperiondb/pkg/config"
	"github.com/PailletJuanPablo/hyperiondb/pkg/core"
	"github.com/PailletJuanPablo/hyperiondb/pkg/monitor"
	"github.com/PailletJuanPablo/hyperiondb/pkg/protocol"
)

func startTestServer(t *testing.T) string {
	return startTestServerMaxLine(t, 0)
}

func startTestServerMaxLine(t *testing.T, maxLine int) string {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Backend = "snapshot"
	cfg.System.NumShards = 4
	cfg.System.IndexedFields = []config.IndexedField{
		{Field: "city", Type: "String"},
		{Field: "age", Type: "Numeric"},
	}
	db, err := core.Open(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewTCPServer(protocol.NewHandler(db, monitor.NewWorkloadStats()), 30*time.Second)
	if maxLine > 0 {
		srv.maxLine = maxLine
	}
	go srv.Serve(listener)
	t.Cleanup(func() {
		srv.Stop()
		db.Close()
	})
	return listener.Addr().String()
}

func TestEndToEndOverTCP(t *testing.T) {
	addr := startTestServer(t)

	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.Insert("u1", map[string]any{"city": "Berlin", "age": 30}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := c.Insert("u2", map[string]any{"city": "Paris", "age": 25}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	doc, err := c.Get("u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["city"] != "Berlin" {
		t.Errorf("city: got %v", doc["city"])
	}
	if _, err := c.Get("ghost"); !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := c.Update("u1", map[string]any{"age": 31}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, _ = c.Get("u1")
	if doc["age"] != float64(31) || doc["city"] != "Berlin" {
		t.Errorf("merged doc: %v", doc)
	}

	docs, err := c.Query("age > 28")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || docs[0]["city"] != "Berlin" {
		t.Errorf("query result: %v", docs)
	}
	if _, err := c.Query("age >"); err == nil {
		t.Error("malformed query should error")
	}

	all, err := c.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("list: got %d docs", len(all))
	}

	if err := c.Delete("u2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.Delete("u2"); !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchVerbsOverTCP(t *testing.T) {
	addr := startTestServer(t)

	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	tuples := []client.Tuple{
		{Key: "a", Doc: map[string]any{"city": "Rome", "age": 40}},
		{Key: "b", Doc: map[string]any{"city": "Rome", "age": 50}},
		{Key: "c", Doc: map[string]any{"city": "Oslo", "age": 20}},
	}
	if err := c.InsertOrUpdateMany(tuples); err != nil {
		t.Fatalf("batch upsert: %v", err)
	}

	n, err := c.DeleteWhere("city = Rome AND age > 45")
	if err != nil {
		t.Fatalf("delete where: %v", err)
	}
	if n != 1 {
		t.Fatalf("delete where: got %d", n)
	}

	deleted, missing, err := c.DeleteMany([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if len(deleted) != 2 || len(missing) != 1 || missing[0] != "b" {
		t.Fatalf("delete many: deleted=%v missing=%v", deleted, missing)
	}
}

func TestOversizedLineGetsFailureText(t *testing.T) {
	addr := startTestServerMaxLine(t, 1024)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("INSERT k " + strings.Repeat("x", 4096) + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := bufio.NewReader(conn)
	resp, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("expected a response before close, got %v", err)
	}
	if !strings.HasPrefix(resp, "ERR ") {
		t.Fatalf("oversized line: got %q, want ERR", resp)
	}
	if _, err := r.ReadString('\n'); err != io.EOF {
		t.Fatalf("expected connection close after oversized line, got %v", err)
	}
}

func TestMalformedLineKeepsConnectionOpen(t *testing.T) {
	addr := startTestServer(t)

	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Get("no such key"); err == nil {
		t.Error("expected error for malformed GET")
	}
	// The same connection must still serve the next command.
	if err := c.Insert("k", map[string]any{"x": 1}); err != nil {
		t.Fatalf("insert after malformed command: %v", err)
	}
	if _, err := c.Get("k"); err != nil {
		t.Fatalf("get after malformed command: %v", err)
	}
}
