// Package gcstest serves a single Cloud Storage bucket over HTTP for tests.
// Point STORAGE_EMULATOR_HOST at Server.URL and the storage client routes XML
// reads, JSON metadata calls and multipart uploads here.
package gcstest

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

type object struct {
	body       []byte
	generation int64
	updated    time.Time
}

// Server holds objects for one bucket. Updated carries millisecond precision
// while the XML Last-Modified header is whole seconds, matching the real service.
type Server struct {
	*httptest.Server
	Bucket string

	mu      sync.Mutex
	objects map[string]object
	clock   time.Time
	gen     int64

	reads   atomic.Int64
	attrs   atomic.Int64
	uploads atomic.Int64
}

// Start serves bucket and sets STORAGE_EMULATOR_HOST for the rest of the test.
func Start(t *testing.T, bucket string) *Server {
	t.Helper()
	s := &Server{
		Bucket:  bucket,
		objects: make(map[string]object),
		clock:   time.Date(2026, 10, 17, 0, 0, 5, 123_000_000, time.UTC),
		gen:     1760659205123000,
	}
	s.Server = httptest.NewServer(s)
	t.Cleanup(s.Close)
	t.Setenv("STORAGE_EMULATOR_HOST", s.URL)
	return s
}

// Seed stores body under name as if it had been uploaded.
func (s *Server) Seed(name string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.clock = s.clock.Add(1500 * time.Millisecond)
	s.objects[name] = object{body: append([]byte(nil), body...), generation: s.gen, updated: s.clock}
}

// Reads counts full XML downloads.
func (s *Server) Reads() int64 { return s.reads.Load() }

// AttrsCalls counts JSON metadata lookups.
func (s *Server) AttrsCalls() int64 { return s.attrs.Load() }

func (s *Server) Uploads() int64 { return s.uploads.Load() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(p, "/upload/storage/v1/b/"+s.Bucket+"/o"):
		s.upload(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(p, "/storage/v1/b/"+s.Bucket+"/o/"):
		s.metadata(w, strings.TrimPrefix(p, "/storage/v1/b/"+s.Bucket+"/o/"))
	case r.Method == http.MethodGet && strings.HasPrefix(p, "/"+s.Bucket+"/"):
		s.read(w, strings.TrimPrefix(p, "/"+s.Bucket+"/"))
	default:
		http.Error(w, "unsupported "+r.Method+" "+p, http.StatusNotImplemented)
	}
}

func (s *Server) lookup(name string) (object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[name]
	return o, ok
}

func (s *Server) read(w http.ResponseWriter, name string) {
	s.reads.Add(1)
	o, ok := s.lookup(name)
	if !ok {
		http.Error(w, "NoSuchKey", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(o.body)))
	w.Header().Set("Last-Modified", o.updated.Format(http.TimeFormat))
	w.Header().Set("X-Goog-Generation", strconv.FormatInt(o.generation, 10))
	w.Header().Set("X-Goog-Metageneration", "1")
	_, _ = w.Write(o.body)
}

func (s *Server) metadata(w http.ResponseWriter, name string) {
	s.attrs.Add(1)
	o, ok := s.lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"code": http.StatusNotFound, "message": "No such object: " + name},
		})
		return
	}
	writeJSON(w, http.StatusOK, s.resource(name, o))
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	s.uploads.Add(1)
	name := r.URL.Query().Get("name")
	body, err := mediaBody(r)
	if err != nil || name == "" {
		http.Error(w, "bad upload", http.StatusBadRequest)
		return
	}
	s.Seed(name, body)
	o, _ := s.lookup(name)
	writeJSON(w, http.StatusOK, s.resource(name, o))
}

func (s *Server) resource(name string, o object) map[string]any {
	return map[string]any{
		"kind":           "storage#object",
		"bucket":         s.Bucket,
		"name":           name,
		"generation":     strconv.FormatInt(o.generation, 10),
		"metageneration": "1",
		"size":           strconv.Itoa(len(o.body)),
		"updated":        o.updated.Format(time.RFC3339Nano),
		"timeCreated":    o.updated.Format(time.RFC3339Nano),
		"contentType":    "application/json",
	}
}

// mediaBody returns the object bytes of a multipart or plain media upload.
func mediaBody(r *http.Request) ([]byte, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return io.ReadAll(r.Body)
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	var last []byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return last, nil
		}
		if err != nil {
			return nil, err
		}
		if last, err = io.ReadAll(part); err != nil {
			return nil, err
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, _ := sonic.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
