// Package client is a thin Go binding for the line protocol: it formats
// one command per line and decodes the one-line JSON response.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/PailletJuanPablo/hyperiondb/pkg/document"
)

// ErrNotFound reports a GET/DELETE against an absent key.
var ErrNotFound = errors.New("key not found")

const dialTimeout = 5 * time.Second

type Client struct {
	conn net.Conn
	r    *bufio.Reader
	addr string
}

func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		addr: addr,
	}, nil
}

// Tuple pairs a key with its document for batch upserts.
type Tuple struct {
	Key string
	Doc any
}

func (c *Client) Insert(key string, doc any) error {
	return c.expectOK(c.commandJSON("INSERT", key, doc))
}

// InsertOrUpdate merge-writes doc: insert when absent, shallow-merge when
// present.
func (c *Client) InsertOrUpdate(key string, doc any) error {
	return c.expectOK(c.commandJSON("INSERT_OR_UPDATE", key, doc))
}

func (c *Client) Update(key string, patch any) error {
	return c.expectOK(c.commandJSON("UPDATE", key, patch))
}

func (c *Client) Get(key string) (document.Document, error) {
	resp, err := c.roundTrip("GET " + key)
	if err != nil {
		return nil, err
	}
	if resp == "NULL" {
		return nil, ErrNotFound
	}
	if err := respErr(resp); err != nil {
		return nil, err
	}
	return document.FromJSON([]byte(resp))
}

func (c *Client) Delete(key string) error {
	resp, err := c.roundTrip("DELETE " + key)
	if err != nil {
		return err
	}
	if strings.HasPrefix(resp, "ERR ") && strings.Contains(resp, "not found") {
		return ErrNotFound
	}
	return c.expectOK(resp, nil)
}

// DeleteWhere removes every document matching condition and returns the
// count removed.
func (c *Client) DeleteWhere(condition string) (int, error) {
	resp, err := c.roundTrip("DELETE " + condition)
	if err != nil {
		return 0, err
	}
	if err := respErr(resp); err != nil {
		return 0, err
	}
	var res struct {
		Deleted int `json:"deleted"`
	}
	if err := json.Unmarshal([]byte(resp), &res); err != nil {
		return 0, fmt.Errorf("client: unexpected response %q", resp)
	}
	return res.Deleted, nil
}

func (c *Client) Query(condition string) ([]document.Document, error) {
	resp, err := c.roundTrip("QUERY " + condition)
	if err != nil {
		return nil, err
	}
	return decodeDocs(resp)
}

func (c *Client) List() ([]document.Document, error) {
	resp, err := c.roundTrip("LIST")
	if err != nil {
		return nil, err
	}
	return decodeDocs(resp)
}

func (c *Client) InsertOrUpdateMany(tuples []Tuple) error {
	payload := make([][2]any, len(tuples))
	for i, t := range tuples {
		payload[i] = [2]any{t.Key, t.Doc}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.expectOK(c.roundTrip("INSERT_OR_UPDATE_MANY " + string(data)))
}

func (c *Client) DeleteMany(keys []string) (deleted, missing []string, err error) {
	data, err := json.Marshal(keys)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.roundTrip("DELETE_MANY " + string(data))
	if err != nil {
		return nil, nil, err
	}
	if err := respErr(resp); err != nil {
		return nil, nil, err
	}
	var res struct {
		Deleted []string `json:"deleted"`
		Missing []string `json:"missing"`
	}
	if err := json.Unmarshal([]byte(resp), &res); err != nil {
		return nil, nil, fmt.Errorf("client: unexpected response %q", resp)
	}
	return res.Deleted, res.Missing, nil
}

// Close says goodbye and drops the connection.
func (c *Client) Close() error {
	fmt.Fprintf(c.conn, "EXIT\n")
	return c.conn.Close()
}

func (c *Client) commandJSON(verb, key string, doc any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return c.roundTrip(verb + " " + key + " " + string(data))
}

func (c *Client) roundTrip(line string) (string, error) {
	resp, err := c.send(line)
	if err == nil {
		return resp, nil
	}
	// One reconnect attempt covers a server restart or dropped socket.
	if rerr := c.reconnect(); rerr != nil {
		return "", err
	}
	return c.send(line)
}

func (c *Client) send(line string) (string, error) {
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return "", err
	}
	resp, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(resp, "\n"), nil
}

func (c *Client) reconnect() error {
	c.conn.Close()
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return err
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)
	return nil
}

func (c *Client) expectOK(resp string, err error) error {
	if err != nil {
		return err
	}
	if resp == "OK" {
		return nil
	}
	if err := respErr(resp); err != nil {
		return err
	}
	return fmt.Errorf("client: unexpected response %q", resp)
}

func respErr(resp string) error {
	if strings.HasPrefix(resp, "ERR ") {
		return errors.New(strings.TrimPrefix(resp, "ERR "))
	}
	return nil
}

func decodeDocs(resp string) ([]document.Document, error) {
	if err := respErr(resp); err != nil {
		return nil, err
	}
	var docs []document.Document
	if err := json.Unmarshal([]byte(resp), &docs); err != nil {
		return nil, fmt.Errorf("client: unexpected response %q", resp)
	}
	return docs, nil
}
