package main

import (
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"os"

	core "github.com/pyropy/pmkfleet/core/coordinator"
	"github.com/pyropy/pmkfleet/core/model"
	rpc "github.com/pyropy/pmkfleet/rpc/coordinator"
)

type API struct {
	server *core.Coordinator
}

func NewCoordinatorAPI(coordinator *core.Coordinator) *API {
	return &API{
		server: coordinator,
	}
}

func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+rpc.HeartbeatPath, a.Heartbeat)
	mux.HandleFunc("GET "+rpc.WorkAvailablePath, a.WorkAvailable)
	mux.HandleFunc("GET "+rpc.ConnectPath, a.Connect)
	mux.HandleFunc("GET "+rpc.GetTodoChunkPath, a.GetTodoChunk)
	mux.HandleFunc("POST "+rpc.SubmitChunkPath, a.SubmitChunk)
	mux.HandleFunc("POST "+rpc.SendPerformanceInfoPath, a.SendPerformanceInfo)
	mux.HandleFunc("POST "+rpc.ClientJobDonePath, a.ClientJobDone)
	mux.HandleFunc("GET "+rpc.PerformanceStatsPath, a.PerformanceStats)
	mux.HandleFunc("GET "+rpc.GetClientsLODPath, a.GetClientsLOD)
	mux.HandleFunc("GET "+rpc.SubmissionsPath, a.Submissions)

	return a.trackClient(mux)
}

// trackClient logs every request and refreshes the heartbeat of known clients.
func (a *API) trackClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := r.Header.Get(rpc.ClientIDHeader)
		log.Debugw("rpc", "event", r.URL.Path, "method", r.Method, "clientID", clientID, "ip", remoteIP(r))

		if clientID != "" {
			a.server.Clients.Heartbeat(clientID)
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) Heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rpc.HeartbeatReply{Response: "The server is reachable!"})
}

func (a *API) WorkAvailable(w http.ResponseWriter, r *http.Request) {
	_, available := a.server.Inventory.FindFirstInState(model.ChunkTODO)
	if !available {
		writeJSON(w, http.StatusNotFound, rpc.WorkAvailableReply{Response: false})
		return
	}

	writeJSON(w, http.StatusOK, rpc.WorkAvailableReply{Response: true})
}

func (a *API) Connect(w http.ResponseWriter, r *http.Request) {
	clientID, ok := requireClientID(w, r)
	if !ok {
		return
	}

	if a.server.Clients.Connect(clientID, remoteIP(r)) {
		log.Infow("rpc", "event", "Connect", "status", "registered new client", "clientID", clientID, "ip", remoteIP(r))
	} else {
		log.Infow("rpc", "event", "Connect", "status", "client already connected", "clientID", clientID)
	}

	writeJSON(w, http.StatusOK, rpc.ConnectReply{Status: "connected", ClientID: clientID})
}

func (a *API) GetTodoChunk(w http.ResponseWriter, r *http.Request) {
	clientID, ok := requireClientID(w, r)
	if !ok {
		return
	}

	// older workers lease without calling /connect first
	a.server.Clients.Connect(clientID, remoteIP(r))

	chunkID, err := a.server.Lease(clientID)
	switch {
	case errors.Is(err, core.ErrNoWork):
		log.Infow("rpc", "event", "GetTodoChunk", "status", "no chunks left", "clientID", clientID)
		writeError(w, http.StatusNotFound, "No TODO chunks left to batch")
		return
	case chunkID == "":
		log.Errorw("rpc", "event", "GetTodoChunk", "clientID", clientID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case err != nil:
		log.Errorw("rpc", "event", "GetTodoChunk", "status", "lease not persisted", "chunkID", chunkID, "error", err)
	}

	f, err := os.Open(a.server.ChunkPath(chunkID))
	if err != nil {
		// the chunk stays WIP under clientID so the scan moves past it;
		// eviction or the next boot returns it to TODO
		log.Errorw("rpc", "event", "GetTodoChunk", "status", "chunk file unreadable", "chunkID", chunkID, "clientID", clientID, "error", err)
		writeError(w, http.StatusInternalServerError, "chunk file unavailable")
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Infow("rpc", "event", "GetTodoChunk", "status", "chunk leased", "chunkID", chunkID, "clientID", clientID)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": chunkID}))
	http.ServeContent(w, r, chunkID, fi.ModTime(), f)
}

func (a *API) SubmitChunk(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(rpc.ClientIDHeader)

	part, err := filePart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer part.Close()

	chunkID := part.FileName()
	if chunkID == "" {
		writeError(w, http.StatusBadRequest, "No selected file")
		return
	}

	submission, err := a.server.Submit(r.Context(), clientID, chunkID, part)
	switch {
	case errors.Is(err, core.ErrChunkNotFound):
		log.Warnw("rpc", "event", "SubmitChunk", "status", "unknown chunk", "chunkID", chunkID, "clientID", clientID)
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, core.ErrInvalidChunkName):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Errorw("rpc", "event", "SubmitChunk", "chunkID", chunkID, "clientID", clientID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Infow("rpc", "event", "SubmitChunk", "status", "chunk submitted", "chunkID", chunkID, "clientID", clientID, "duplicate", submission.Duplicate, "size", submission.Size)
	writeJSON(w, http.StatusOK, rpc.SubmitChunkReply{
		Message:   "File uploaded successfully",
		FilePath:  submission.Path,
		Duplicate: submission.Duplicate,
	})
}

func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}

		if part.FormName() == rpc.FileField {
			return part, nil
		}

		part.Close()
	}
}

func (a *API) SendPerformanceInfo(w http.ResponseWriter, r *http.Request) {
	var args rpc.PerformanceInfoArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || args.ClientID == "" || args.Performance == nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON data")
		return
	}

	a.server.Clients.Connect(args.ClientID, remoteIP(r))
	a.server.Clients.RecordThroughput(args.ClientID, *args.Performance)
	a.server.Clients.Heartbeat(args.ClientID)

	log.Debugw("rpc", "event", "SendPerformanceInfo", "clientID", args.ClientID, "performance", *args.Performance)
	writeJSON(w, http.StatusOK, rpc.StatusReply{Status: "Message received successfully"})
}

func (a *API) ClientJobDone(w http.ResponseWriter, r *http.Request) {
	var args rpc.ClientJobDoneArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || args.ClientID == "" {
		log.Warnw("rpc", "event", "ClientJobDone", "status", "invalid json", "ip", remoteIP(r))
		writeError(w, http.StatusBadRequest, "Invalid JSON data")
		return
	}

	revoked, err := a.server.Disconnect(args.ClientID)
	switch {
	case errors.Is(err, core.ErrUnknownClient):
		log.Warnw("rpc", "event", "ClientJobDone", "status", "unknown client", "clientID", args.ClientID)
		writeError(w, http.StatusNotFound, "Could not delete the specified key")
		return
	case err != nil:
		log.Errorw("rpc", "event", "ClientJobDone", "clientID", args.ClientID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Infow("rpc", "event", "ClientJobDone", "status", "client completed its work", "clientID", args.ClientID, "revoked", revoked)
	writeJSON(w, http.StatusOK, rpc.StatusReply{Status: "Message received successfully."})
}

func (a *API) PerformanceStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.server.Stats())
}

func (a *API) GetClientsLOD(w http.ResponseWriter, r *http.Request) {
	clients := a.server.Clients.Snapshot()
	if len(clients) == 0 {
		writeError(w, http.StatusNotFound, "No clients connected")
		return
	}

	writeJSON(w, http.StatusOK, clients)
}

func (a *API) Submissions(w http.ResponseWriter, r *http.Request) {
	submissions, err := a.server.Submissions.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, submissions)
}

func requireClientID(w http.ResponseWriter, r *http.Request) (string, bool) {
	clientID := r.Header.Get(rpc.ClientIDHeader)
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "missing "+rpc.ClientIDHeader+" header")
		return "", false
	}

	return clientID, true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnw("rpc", "status", "failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, rpc.ErrorReply{Error: msg})
}
