package model

import "time"

// ClientRecord is a read-only copy of a registered worker.
type ClientRecord struct {
	ID            string    `json:"clientID"`
	Address       string    `json:"ip"`
	Assigned      []string  `json:"assigned"`
	Throughput    int64     `json:"performance"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	ConnectedAt   time.Time `json:"connectedAt"`
}
