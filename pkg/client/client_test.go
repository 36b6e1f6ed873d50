package client

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"testing"
)

// stubServer answers each received line with the next canned response and
// records what it was sent.
func stubServer(t *testing.T, responses []string) (addr string, received *[]string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	lines := &[]string{}
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for i := 0; scanner.Scan(); i++ {
			*lines = append(*lines, scanner.Text())
			if i < len(responses) {
				conn.Write([]byte(responses[i] + "\n"))
			}
		}
	}()
	return listener.Addr().String(), lines
}

func TestInsertFormatsCommand(t *testing.T) {
	addr, received := stubServer(t, []string{"OK"})
	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.conn.Close()

	if err := c.Insert("u1", map[string]any{"name": "Ada"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(*received) != 1 || (*received)[0] != `INSERT u1 {"name":"Ada"}` {
		t.Fatalf("sent line: %v", *received)
	}
}

func TestGetDecodesResponses(t *testing.T) {
	addr, _ := stubServer(t, []string{`{"name":"Ada"}`, "NULL", "ERR boom"})
	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.conn.Close()

	doc, err := c.Get("u1")
	if err != nil || doc["name"] != "Ada" {
		t.Fatalf("get: doc=%v err=%v", doc, err)
	}
	if _, err := c.Get("u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.Get("u3"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestQueryDecodesArray(t *testing.T) {
	addr, received := stubServer(t, []string{`[{"a":1},{"a":2}]`})
	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.conn.Close()

	docs, err := c.Query("a > 0")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs", len(docs))
	}
	if (*received)[0] != "QUERY a > 0" {
		t.Fatalf("sent line: %q", (*received)[0])
	}
}

func TestInsertOrUpdateManyPayload(t *testing.T) {
	addr, received := stubServer(t, []string{"OK"})
	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.conn.Close()

	err = c.InsertOrUpdateMany([]Tuple{
		{Key: "a", Doc: map[string]any{"x": 1}},
		{Key: "b", Doc: map[string]any{"y": 2}},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	want := `INSERT_OR_UPDATE_MANY [["a",{"x":1}],["b",{"y":2}]]`
	if (*received)[0] != want {
		t.Fatalf("sent line: %q, want %q", (*received)[0], want)
	}
}
