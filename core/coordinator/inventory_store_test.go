package coordinator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pyropy/pmkfleet/core/model"
)

func TestLoadInventoryFailsOnMissingOrCorruptDocument(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadInventory(filepath.Join(dir, InventoryFileName)); err == nil {
		t.Fatal("expected error for missing inventory")
	}

	path := filepath.Join(dir, InventoryFileName)
	if err := os.WriteFile(path, []byte(`{"ssidCount": 1, "chunks": {"a": "LOST"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadInventory(path); !errors.Is(err, model.ErrMalformedInventory) {
		t.Fatalf("expected ErrMalformedInventory, got %v", err)
	}
}

func TestLoadInventorySanitizesNullKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), InventoryFileName)
	doc := `{"ssidCount": 1, "chunks": {"null": "TODO", "a": "TODO", "None": "WIP", "": "DONE"}}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadInventory(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	if _, exists := s.Get("null"); exists {
		t.Fatal("null key survived sanitize")
	}
}

func TestFindFirstInStateUsesDocumentOrder(t *testing.T) {
	s := NewInventoryStore("", &model.Inventory{Chunks: []model.Chunk{
		{ID: "z", State: model.ChunkDONE},
		{ID: "m", State: model.ChunkTODO},
		{ID: "a", State: model.ChunkTODO},
	}})

	id, found := s.FindFirstInState(model.ChunkTODO)
	if !found || id != "m" {
		t.Fatalf("FindFirstInState = %q, %v; want m", id, found)
	}

	if _, found := s.FindFirstInState(model.ChunkWIP); found {
		t.Fatal("did not expect a WIP chunk")
	}
}

func TestSetStateTransitions(t *testing.T) {
	s := NewInventoryStore("", &model.Inventory{Chunks: []model.Chunk{
		{ID: "a", State: model.ChunkTODO},
		{ID: "b", State: model.ChunkDONE},
	}})

	if err := s.SetState(model.ChunkWIP, "a"); err != nil {
		t.Fatalf("TODO -> WIP: %v", err)
	}

	if err := s.SetState(model.ChunkDONE, "b"); err != nil {
		t.Fatalf("DONE -> DONE: %v", err)
	}

	if err := s.SetState(model.ChunkTODO, "b"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("DONE -> TODO: expected ErrInvalidTransition, got %v", err)
	}

	// all-or-nothing: a bad id leaves a untouched
	if err := s.SetState(model.ChunkTODO, "a", "missing"); !errors.Is(err, ErrChunkNotFound) {
		t.Fatalf("expected ErrChunkNotFound, got %v", err)
	}

	if state, _ := s.Get("a"); state != model.ChunkWIP {
		t.Fatalf("a = %s, want WIP", state)
	}
}

func TestResetAllWIPAndPersist(t *testing.T) {
	dir := writeJob(t, 7, []string{"a", "b"}, "WIP")
	path := filepath.Join(dir, InventoryFileName)

	s, err := LoadInventory(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if n := s.ResetAllWIP(); n != 2 {
		t.Fatalf("reset %d chunks, want 2", n)
	}

	if err := s.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	want := `{"ssidCount":7,"chunks":{"a":"TODO","b":"TODO"}}`
	if string(b) != want {
		t.Fatalf("document = %s, want %s", b, want)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "."+InventoryFileName+".*"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestCounts(t *testing.T) {
	s := NewInventoryStore("", &model.Inventory{Chunks: []model.Chunk{
		{ID: "a", State: model.ChunkTODO},
		{ID: "b", State: model.ChunkWIP},
		{ID: "c", State: model.ChunkDONE},
		{ID: "d", State: model.ChunkDONE},
	}})

	counts := s.Counts()
	if counts[model.ChunkTODO] != 1 || counts[model.ChunkWIP] != 1 || counts[model.ChunkDONE] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}
