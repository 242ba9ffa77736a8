package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// alertMarkers are the substrings the mock Wazuh manager alerts on.
var alertMarkers = []string{"/etc/passwd", "or 1=1", "union select", "nmap", "../"}

type document struct {
	ID        string         `json:"-"`
	Index     string         `json:"-"`
	Message   string         `json:"message"`
	Completed bool           `json:"ai_analysis_completed"`
	Analysis  map[string]any `json:"analysis,omitempty"`
}

type store struct {
	mu   sync.Mutex
	next int
	docs map[string]*document
}

func newStore(seed []string) *store {
	s := &store{docs: make(map[string]*document)}
	for _, msg := range seed {
		s.add("filebeat-local", msg)
	}
	return s
}

func (s *store) add(index, message string) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	doc := &document{ID: fmt.Sprintf("doc-%d", s.next), Index: index, Message: message}
	s.docs[doc.ID] = doc
	return doc
}

func (s *store) pending(size int) []*document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*document, 0, len(s.docs))
	for _, d := range s.docs {
		if !d.Completed {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if size > 0 && len(out) > size {
		out = out[:size]
	}
	return out
}

func (s *store) update(id string, fields map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return false
	}
	if done, ok := fields["ai_analysis_completed"].(bool); ok {
		d.Completed = done
	}
	if analysis, ok := fields["analysis"].(map[string]any); ok {
		d.Analysis = analysis
	}
	return true
}

func main() {
	docs := newStore([]string{
		`10.0.0.5 - - [12/Mar/2025:10:00:01 +0000] "GET /etc/passwd HTTP/1.1" 404 153 error`,
		`10.0.0.9 - - [12/Mar/2025:10:00:02 +0000] "GET /index.html HTTP/1.1" 200 512`,
		`10.0.0.7 - - [12/Mar/2025:10:00:03 +0000] "GET /item?id=1%20OR%201=1 HTTP/1.1" 500 77 failed`,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /logtest", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Event string `json:"event"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		alerts := 0
		lower := strings.ToLower(req.Event)
		for _, marker := range alertMarkers {
			if strings.Contains(lower, marker) {
				alerts++
			}
		}
		writeJSON(w, map[string]any{"total_alerts": alerts, "hits": alerts, "data": []any{}})
	})

	mux.HandleFunc("POST /{index}/_doc", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}
		doc := docs.add(r.PathValue("index"), req.Message)
		writeJSON(w, map[string]any{"_index": doc.Index, "_id": doc.ID, "result": "created"})
	})

	mux.HandleFunc("POST /{index}/_search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Size int `json:"size"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		hits := []map[string]any{}
		for _, d := range docs.pending(req.Size) {
			hits = append(hits, map[string]any{"_index": d.Index, "_id": d.ID, "_source": d})
		}
		writeJSON(w, map[string]any{"hits": map[string]any{"total": map[string]any{"value": len(hits)}, "hits": hits}})
	})

	mux.HandleFunc("POST /{index}/_update/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Doc map[string]any `json:"doc"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !docs.update(r.PathValue("id"), req.Doc) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"_id": r.PathValue("id"), "result": "updated"})
	})

	addr := ":9200"
	if v := os.Getenv("MOCK_SIEM_ADDR"); v != "" {
		addr = v
	}
	logger := log.New(log.Writer(), "siem-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    addr,
		Handler: logRequests(logger, mux),
	}

	logger.Printf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
