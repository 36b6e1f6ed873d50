// Package protocol implements the line protocol: one UTF-8 command per
// line in, exactly one line out. Engine errors become ERR responses; only
// EXIT closes the connection from the server side.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PailletJuanPablo/hyperiondb/pkg/core"
	"github.com/PailletJuanPablo/hyperiondb/pkg/document"
	"github.com/PailletJuanPablo/hyperiondb/pkg/monitor"
	"github.com/PailletJuanPablo/hyperiondb/pkg/shard"
)

const (
	RespOK   = "OK"
	RespNull = "NULL"
	RespBye  = "BYE"
)

type Handler struct {
	db    *core.DB
	stats *monitor.WorkloadStats
}

func NewHandler(db *core.DB, stats *monitor.WorkloadStats) *Handler {
	return &Handler{db: db, stats: stats}
}

// Execute runs one command line and returns the single response line.
// closeConn is true only for EXIT. A malformed command yields an ERR
// response and leaves the connection open.
func (h *Handler) Execute(line string) (response string, closeConn bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return errResp("empty command"), false
	}

	verb := line
	rest := ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		verb = line[:i]
		rest = strings.TrimSpace(line[i+1:])
	}
	verb = strings.ToUpper(verb)

	switch verb {
	case "INSERT":
		return h.record(verb, true, h.insert(rest, false)), false
	case "INSERT_OR_UPDATE":
		return h.record(verb, true, h.insert(rest, true)), false
	case "GET":
		return h.record(verb, false, h.get(rest)), false
	case "UPDATE":
		return h.record(verb, true, h.update(rest)), false
	case "DELETE":
		return h.record(verb, true, h.delete(rest)), false
	case "LIST":
		return h.record(verb, false, h.list(rest)), false
	case "QUERY":
		return h.record(verb, false, h.query(rest)), false
	case "INSERT_OR_UPDATE_MANY":
		return h.record(verb, true, h.insertOrUpdateMany(rest)), false
	case "DELETE_MANY":
		return h.record(verb, true, h.deleteMany(rest)), false
	case "EXIT":
		return RespBye, true
	default:
		h.stats.RecordError()
		return errResp("unknown command %q", verb), false
	}
}

func (h *Handler) record(verb string, isWrite bool, response string) string {
	h.stats.RecordCommand(verb, isWrite)
	if strings.HasPrefix(response, "ERR ") {
		h.stats.RecordError()
	}
	return response
}

func (h *Handler) insert(rest string, merge bool) string {
	key, payload, ok := splitKeyPayload(rest)
	if !ok {
		return errResp("usage: INSERT <key> <json>")
	}
	doc, err := document.FromJSON([]byte(payload))
	if err != nil {
		return errResp("invalid document: %v", err)
	}
	if merge {
		err = h.db.InsertOrUpdate(key, doc)
	} else {
		err = h.db.Insert(key, doc)
	}
	if err != nil {
		return errResp("insert failed: %v", err)
	}
	return RespOK
}

func (h *Handler) get(rest string) string {
	if rest == "" || strings.ContainsRune(rest, ' ') {
		return errResp("usage: GET <key>")
	}
	doc, ok := h.db.Get(rest)
	if !ok {
		return RespNull
	}
	return jsonResp(doc)
}

func (h *Handler) update(rest string) string {
	key, payload, ok := splitKeyPayload(rest)
	if !ok {
		return errResp("usage: UPDATE <key> <jsonPatch>")
	}
	patch, err := document.FromJSON([]byte(payload))
	if err != nil {
		return errResp("invalid patch: %v", err)
	}
	if err := h.db.Update(key, patch); err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return errResp("key %q not found", key)
		}
		return errResp("update failed: %v", err)
	}
	return RespOK
}

// delete takes either a bare key (one token) or a condition (anything with
// whitespace in it).
func (h *Handler) delete(rest string) string {
	if rest == "" {
		return errResp("usage: DELETE <key|condition>")
	}
	if !strings.ContainsRune(rest, ' ') {
		ok, err := h.db.Delete(rest)
		if err != nil {
			return errResp("delete failed: %v", err)
		}
		if !ok {
			return errResp("key %q not found", rest)
		}
		return RespOK
	}

	n, err := h.db.DeleteWhere(rest)
	if err != nil {
		return errResp("%v", err)
	}
	return jsonResp(map[string]int{"deleted": n})
}

func (h *Handler) list(rest string) string {
	if rest != "" {
		return errResp("usage: LIST")
	}
	docs := h.db.List()
	if docs == nil {
		docs = []document.Document{}
	}
	return jsonResp(docs)
}

func (h *Handler) query(rest string) string {
	if rest == "" {
		return errResp("usage: QUERY <condition>")
	}
	docs, err := h.db.Query(rest)
	if err != nil {
		return errResp("%v", err)
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return jsonResp(docs)
}

// insertOrUpdateMany takes a JSON array of [key, document] tuples.
func (h *Handler) insertOrUpdateMany(rest string) string {
	var tuples []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &tuples); err != nil {
		return errResp("invalid payload, want [[key, doc], ...]: %v", err)
	}
	pairs := make([]shard.KV, 0, len(tuples))
	for i, raw := range tuples {
		var tuple []json.RawMessage
		if err := json.Unmarshal(raw, &tuple); err != nil || len(tuple) != 2 {
			return errResp("tuple %d: want [key, doc]", i)
		}
		var key string
		if err := json.Unmarshal(tuple[0], &key); err != nil || key == "" {
			return errResp("tuple %d: key must be a non-empty string", i)
		}
		doc, err := document.FromJSON(tuple[1])
		if err != nil {
			return errResp("tuple %d: invalid document: %v", i, err)
		}
		pairs = append(pairs, shard.KV{Key: key, Doc: doc})
	}
	if _, err := h.db.InsertOrUpdateMany(pairs); err != nil {
		return errResp("batch partially failed: %v", err)
	}
	return RespOK
}

func (h *Handler) deleteMany(rest string) string {
	var keys []string
	if err := json.Unmarshal([]byte(rest), &keys); err != nil {
		return errResp(`invalid payload, want ["key", ...]: %v`, err)
	}
	res, err := h.db.DeleteMany(keys)
	if err != nil {
		return errResp("batch partially failed: %v", err)
	}
	return jsonResp(res)
}

// splitKeyPayload separates the key token from the JSON payload that
// follows it. The payload may contain spaces.
func splitKeyPayload(rest string) (key, payload string, ok bool) {
	i := strings.IndexByte(rest, ' ')
	if i <= 0 {
		return "", "", false
	}
	key = rest[:i]
	payload = strings.TrimSpace(rest[i+1:])
	if payload == "" {
		return "", "", false
	}
	return key, payload, true
}

func errResp(format string, args ...any) string {
	return "ERR " + fmt.Sprintf(format, args...)
}

func jsonResp(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return errResp("encode response: %v", err)
	}
	return string(data)
}
