package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedInventory = errors.New("malformed inventory document")

// Inventory is the durable job document:
//
//	{"ssidCount": 3, "chunks": {"wordlist-chunk-aa": "TODO", ...}}
//
// Chunks keeps the key order found in the document.
type Inventory struct {
	SSIDCount int
	Chunks    []Chunk
}

type inventoryDocument struct {
	SSIDCount *int          `json:"ssidCount"`
	Chunks    *orderedChunks `json:"chunks"`
}

type orderedChunks []Chunk

func (o *orderedChunks) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))

	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: chunks must be an object", ErrMalformedInventory)
	}

	seen := map[string]struct{}{}
	chunks := orderedChunks{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}

		id := tok.(string)
		var state ChunkState
		if err := dec.Decode(&state); err != nil {
			return fmt.Errorf("chunk %q: %w", id, err)
		}

		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate chunk %q", ErrMalformedInventory, id)
		}

		seen[id] = struct{}{}
		chunks = append(chunks, Chunk{ID: id, State: state})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*o = chunks
	return nil
}

func (o orderedChunks) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range o {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(c.ID)
		if err != nil {
			return nil, err
		}

		state, err := c.State.MarshalJSON()
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(state)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// DecodeInventory parses an inventory document. Both fields are required and
// every state must be one of TODO, WIP or DONE.
func DecodeInventory(b []byte) (*Inventory, error) {
	var doc inventoryDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInventory, err)
	}

	if doc.SSIDCount == nil {
		return nil, fmt.Errorf("%w: missing ssidCount", ErrMalformedInventory)
	}

	if doc.Chunks == nil {
		return nil, fmt.Errorf("%w: missing chunks", ErrMalformedInventory)
	}

	return &Inventory{
		SSIDCount: *doc.SSIDCount,
		Chunks:    *doc.Chunks,
	}, nil
}

// EncodeInventory renders inv in document order.
func EncodeInventory(inv *Inventory) ([]byte, error) {
	ssidCount := inv.SSIDCount
	chunks := orderedChunks(inv.Chunks)

	return json.Marshal(inventoryDocument{
		SSIDCount: &ssidCount,
		Chunks:    &chunks,
	})
}
