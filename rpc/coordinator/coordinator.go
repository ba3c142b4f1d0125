package coordinator

// ClientIDHeader carries the worker identity on every request.
const ClientIDHeader = "clientID"

// FileField is the multipart field holding a submitted chunk.
const FileField = "file"

const (
	HeartbeatPath           = "/heartbeat"
	WorkAvailablePath       = "/workAvailable"
	ConnectPath             = "/connect"
	GetTodoChunkPath        = "/getTodoChunk"
	SubmitChunkPath         = "/submitChunk"
	SendPerformanceInfoPath = "/sendPerformanceInfo"
	ClientJobDonePath       = "/clientJobDone"
	PerformanceStatsPath    = "/performanceStats"
	GetClientsLODPath       = "/getClientsLOD"
	SubmissionsPath         = "/submissions"
)

type HeartbeatReply struct {
	Response string `json:"response"`
}

type WorkAvailableReply struct {
	Response bool `json:"response"`
}

type ConnectReply struct {
	Status   string `json:"status"`
	ClientID string `json:"clientID"`
}

type SubmitChunkReply struct {
	Message   string `json:"message"`
	FilePath  string `json:"file_path"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// PerformanceInfoArgs uses a pointer so a missing value is told apart from 0.
type PerformanceInfoArgs struct {
	ClientID    string `json:"clientID"`
	Performance *int64 `json:"performance"`
}

type ClientJobDoneArgs struct {
	ClientID string `json:"clientID"`
}

type StatusReply struct {
	Status string `json:"status"`
}

type ErrorReply struct {
	Error string `json:"error"`
}
