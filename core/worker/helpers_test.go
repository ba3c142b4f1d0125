package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	rpc "github.com/pyropy/pmkfleet/rpc/coordinator"
)

// fakeCoordinator serves a fixed list of chunks and records what workers
// send back.
type fakeCoordinator struct {
	mu          sync.Mutex
	todo        []string
	submitted   map[string][]byte
	submitCalls int
	failSubmits int
	performance []int64
	jobDone     []string
	clientIDs   map[string]struct{}
}

func newFakeCoordinator(t *testing.T, chunks ...string) (*fakeCoordinator, *httptest.Server) {
	t.Helper()

	f := &fakeCoordinator{
		todo:      append([]string(nil), chunks...),
		submitted: map[string][]byte{},
		clientIDs: map[string]struct{}{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+rpc.HeartbeatPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpc.HeartbeatReply{Response: "ok"})
	})
	mux.HandleFunc("GET "+rpc.ConnectPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpc.ConnectReply{Status: "connected", ClientID: r.Header.Get(rpc.ClientIDHeader)})
	})
	mux.HandleFunc("GET "+rpc.GetTodoChunkPath, f.lease)
	mux.HandleFunc("POST "+rpc.SubmitChunkPath, f.submit)
	mux.HandleFunc("POST "+rpc.SendPerformanceInfoPath, func(w http.ResponseWriter, r *http.Request) {
		var args rpc.PerformanceInfoArgs
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil || args.Performance == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.performance = append(f.performance, *args.Performance)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(rpc.StatusReply{Status: "ok"})
	})
	mux.HandleFunc("POST "+rpc.ClientJobDonePath, func(w http.ResponseWriter, r *http.Request) {
		var args rpc.ClientJobDoneArgs
		json.NewDecoder(r.Body).Decode(&args)

		f.mu.Lock()
		f.jobDone = append(f.jobDone, args.ClientID)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(rpc.StatusReply{Status: "ok"})
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.clientIDs[r.Header.Get(rpc.ClientIDHeader)] = struct{}{}
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	return f, srv
}

func (f *fakeCoordinator) lease(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if len(f.todo) == 0 {
		f.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(rpc.ErrorReply{Error: "No TODO chunks left to batch"})
		return
	}

	chunkID := f.todo[0]
	f.todo = f.todo[1:]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": chunkID}))
	fmt.Fprintf(w, "raw %s\n", chunkID)
}

func (f *fakeCoordinator) submit(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile(rpc.FileField)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(rpc.ErrorReply{Error: "No file part"})
		return
	}
	defer file.Close()

	b, _ := io.ReadAll(file)

	f.mu.Lock()
	f.submitCalls++
	if f.failSubmits > 0 {
		f.failSubmits--
		f.mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(rpc.ErrorReply{Error: "disk full"})
		return
	}
	f.submitted[header.Filename] = b
	f.mu.Unlock()

	json.NewEncoder(w).Encode(rpc.SubmitChunkReply{Message: "File uploaded successfully", FilePath: "/uploads/" + header.Filename})
}

// fakeBatchTool writes a shell script standing in for the batch executable.
// It prints one progress line, one diagnostic line and marks the chunk file
// as processed.
func fakeBatchTool(t *testing.T, rate int, exitCode int) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("batch tool stand-in needs /bin/sh")
	}

	script := fmt.Sprintf(`#!/bin/sh
echo "Starting batch on $1"
echo "warming up" >&2
echo "Computed 25000 PMK in 48 seconds (%d PMK/s, 225000 in buffer)"
echo "processed" >> "$1"
exit %d
`, rate, exitCode)

	path := filepath.Join(t.TempDir(), "airolib-ng")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	return path
}
