package idempotency

import (
	"bytes"
	"net/http"
	"sort"
)

// HeaderPair is one response header. Repeated names appear as separate pairs.
type HeaderPair struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// Response is the saved outcome of the first request for a key.
type Response struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

// Header returns the first value stored for name, matched case-insensitively.
func (r *Response) Header(name string) string {
	canonical := http.CanonicalHeaderKey(name)
	for _, h := range r.Headers {
		if http.CanonicalHeaderKey(h.Name) == canonical {
			return string(h.Value)
		}
	}
	return ""
}

// Write replays the response onto w, header pairs in their saved order.
func (r *Response) Write(w http.ResponseWriter) error {
	for _, h := range r.Headers {
		w.Header().Add(h.Name, string(h.Value))
	}
	w.WriteHeader(r.StatusCode)
	_, err := w.Write(r.Body)
	return err
}

// Recorder is an http.ResponseWriter that captures what a handler writes so
// it can be saved and replayed.
type Recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{header: make(http.Header)}
}

func (rec *Recorder) Header() http.Header { return rec.header }

func (rec *Recorder) WriteHeader(status int) {
	if rec.status == 0 {
		rec.status = status
	}
}

func (rec *Recorder) Write(p []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.body.Write(p)
}

// Response returns what has been written so far. Header names are sorted;
// values keep the order they were added in.
func (rec *Recorder) Response() *Response {
	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}

	names := make([]string, 0, len(rec.header))
	for name := range rec.header {
		names = append(names, name)
	}
	sort.Strings(names)

	var headers []HeaderPair
	for _, name := range names {
		for _, v := range rec.header[name] {
			headers = append(headers, HeaderPair{Name: name, Value: []byte(v)})
		}
	}

	return &Response{
		StatusCode: status,
		Headers:    headers,
		Body:       bytes.Clone(rec.body.Bytes()),
	}
}
