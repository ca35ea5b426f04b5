package log

import (
	"encoding/json"
	"io"
	"sync"
)

// jsonHandler writes one JSON object per record; used when a node is run as
// a managed service and log lines must be machine-parseable.
type jsonHandler struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONHandler returns a Handler emitting newline-delimited JSON records.
func NewJSONHandler(w io.Writer) Handler {
	return &jsonHandler{w: w}
}

func (h *jsonHandler) Log(r Record) error {
	m := make(map[string]interface{}, 4+len(r.Ctx)/2)
	m["t"] = r.Time
	m["lvl"] = r.Level.String()
	m["msg"] = r.Msg
	for i := 0; i+1 < len(r.Ctx); i += 2 {
		key, ok := r.Ctx[i].(string)
		if !ok {
			key = "?"
		}
		m[key] = r.Ctx[i+1]
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	enc := json.NewEncoder(h.w)
	return enc.Encode(m)
}
