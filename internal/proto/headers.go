package proto

import (
	"bufio"
	"io"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/roldriel/reqivo/internal/errs"
)

// Headers is an ordered, case-insensitive multi-map of HTTP header fields.
// Lookup folds ASCII case; serialization preserves insertion order and
// writes each field line with the casing it was given by Set or Add (Set
// replaces every line of the name, so its casing wins). Duplicate names are
// kept as distinct entries, which matters for Set-Cookie.
type Headers struct {
	kvs []headerField
}

type headerField struct {
	name  string // as given by the caller
	fold  string // lower-cased for comparison
	value string
}

func NewHeaders() *Headers { return &Headers{} }

// HeadersFrom builds a Headers from alternating name, value pairs.
// Panics on an odd argument count; it is a literal-construction helper.
func HeadersFrom(pairs ...string) *Headers {
	if len(pairs)%2 != 0 {
		panic("proto: HeadersFrom requires name/value pairs")
	}
	h := NewHeaders()
	for i := 0; i < len(pairs); i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}
	return h
}

func foldName(name string) string { return strings.ToLower(name) }

// ValidateField rejects names outside the RFC 7230 token grammar and
// values containing CR, LF or NUL, before any bytes reach the wire.
func ValidateField(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return errs.New(errs.KindInvalidRequest, "validate header", "invalid header name %q", name)
	}
	if !httpguts.ValidHeaderFieldValue(value) || strings.ContainsAny(value, "\r\n\x00") {
		return errs.New(errs.KindInvalidRequest, "validate header", "invalid value for header %q", name)
	}
	return nil
}

// Set replaces every value of name with the given values, in order.
// With no values it is equivalent to Del.
func (h *Headers) Set(name string, values ...string) {
	h.Del(name)
	for _, v := range values {
		h.Add(name, v)
	}
}

// Add appends one value, keeping earlier entries for the same name.
func (h *Headers) Add(name, value string) {
	h.kvs = append(h.kvs, headerField{name: name, fold: foldName(name), value: value})
}

// Get returns the most recently added value for name, or "".
func (h *Headers) Get(name string) string {
	fold := foldName(name)
	for i := len(h.kvs) - 1; i >= 0; i-- {
		if h.kvs[i].fold == fold {
			return h.kvs[i].value
		}
	}
	return ""
}

// GetAll returns every value for name in insertion order.
func (h *Headers) GetAll(name string) []string {
	fold := foldName(name)
	var out []string
	for _, kv := range h.kvs {
		if kv.fold == fold {
			out = append(out, kv.value)
		}
	}
	return out
}

func (h *Headers) Has(name string) bool {
	fold := foldName(name)
	for _, kv := range h.kvs {
		if kv.fold == fold {
			return true
		}
	}
	return false
}

func (h *Headers) Del(name string) {
	fold := foldName(name)
	out := h.kvs[:0]
	for _, kv := range h.kvs {
		if kv.fold != fold {
			out = append(out, kv)
		}
	}
	h.kvs = out
}

// Len is the number of field lines, counting duplicates.
func (h *Headers) Len() int { return len(h.kvs) }

// Each visits every field line in insertion order.
func (h *Headers) Each(fn func(name, value string)) {
	for _, kv := range h.kvs {
		fn(kv.name, kv.value)
	}
}

func (h *Headers) Clone() *Headers {
	cp := &Headers{kvs: make([]headerField, len(h.kvs))}
	copy(cp.kvs, h.kvs)
	return cp
}

// Validate checks every field against the injection rules.
func (h *Headers) Validate() error {
	for _, kv := range h.kvs {
		if err := ValidateField(kv.name, kv.value); err != nil {
			return err
		}
	}
	return nil
}

// Write serializes the fields in insertion order, one "name: value\r\n"
// line per value. It does not write the terminating blank line.
func (h *Headers) Write(w io.Writer) error {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
		defer bw.Flush()
	}
	for _, kv := range h.kvs {
		bw.WriteString(kv.name)
		bw.WriteString(": ")
		bw.WriteString(kv.value)
		if _, err := bw.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ContainsToken reports whether any value of name contains token in its
// comma-separated list, compared case-insensitively. Used for
// Connection: close and Transfer-Encoding: chunked checks.
func (h *Headers) ContainsToken(name, token string) bool {
	for _, v := range h.GetAll(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
