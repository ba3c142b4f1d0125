package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ChunkState is the lifecycle state of a chunk.
type ChunkState int

const (
	ChunkTODO ChunkState = iota
	ChunkWIP
	ChunkDONE
)

var ErrUnknownChunkState = errors.New("unknown chunk state")

func (s ChunkState) String() string {
	switch s {
	case ChunkTODO:
		return "TODO"
	case ChunkWIP:
		return "WIP"
	case ChunkDONE:
		return "DONE"
	default:
		return fmt.Sprintf("ChunkState(%d)", int(s))
	}
}

func ParseChunkState(s string) (ChunkState, error) {
	switch s {
	case "TODO":
		return ChunkTODO, nil
	case "WIP":
		return ChunkWIP, nil
	case "DONE":
		return ChunkDONE, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownChunkState, s)
	}
}

func (s ChunkState) MarshalJSON() ([]byte, error) {
	switch s {
	case ChunkTODO, ChunkWIP, ChunkDONE:
		return json.Marshal(s.String())
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownChunkState, int(s))
	}
}

func (s *ChunkState) UnmarshalJSON(b []byte) error {
	var raw *string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	if raw == nil {
		return fmt.Errorf("%w: null", ErrUnknownChunkState)
	}

	state, err := ParseChunkState(*raw)
	if err != nil {
		return err
	}

	*s = state
	return nil
}

// Chunk pairs a chunk id with its state.
type Chunk struct {
	ID    string     `json:"id"`
	State ChunkState `json:"state"`
}
