package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"
	"github.com/pyropy/pmkfleet/lib/checksum"
)

const (
	UploadsDirName     = "uploads"
	SubmissionsDirName = "submissions"
)

var ErrInvalidChunkName = errors.New("invalid chunk name")

// Submission describes one stored upload.
type Submission struct {
	ChunkID     string    `json:"chunkID"`
	ClientID    string    `json:"clientID"`
	Path        string    `json:"file_path"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"sha256"`
	SubmittedAt time.Time `json:"submittedAt"`
	Duplicate   bool      `json:"duplicate"`
}

// SubmissionStore writes uploaded payloads under <job dir>/uploads and keeps
// a LevelDB ledger of what was received.
type SubmissionStore struct {
	uploadDir   string
	Submissions *dslvl.Datastore
}

func NewSubmissionStore(jobDir string) (*SubmissionStore, error) {
	uploadDir := filepath.Join(jobDir, UploadsDirName)
	if err := os.MkdirAll(uploadDir, 0750); err != nil {
		return nil, err
	}

	store, err := dslvl.NewDatastore(filepath.Join(jobDir, SubmissionsDirName), nil)
	if err != nil {
		return nil, err
	}

	return &SubmissionStore{
		uploadDir:   uploadDir,
		Submissions: store,
	}, nil
}

func submissionKey(chunkID string) ds.Key {
	return ds.NewKey("/chunks").ChildString(chunkID)
}

// ValidChunkName rejects names that would escape the uploads directory.
func ValidChunkName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	return filepath.Base(name) == name
}

// Save streams payload to disk and records it in the ledger.
func (s *SubmissionStore) Save(ctx context.Context, clientID, chunkID string, payload io.Reader) (*Submission, error) {
	if !ValidChunkName(chunkID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChunkName, chunkID)
	}

	path := filepath.Join(s.uploadDir, chunkID)
	tmp, err := os.CreateTemp(s.uploadDir, "."+chunkID+".*")
	if err != nil {
		return nil, err
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	sum := checksum.NewWriter()
	if _, err := io.Copy(io.MultiWriter(tmp, sum), payload); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write payload: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return nil, err
	}

	submission := Submission{
		ChunkID:     chunkID,
		ClientID:    clientID,
		Path:        path,
		Size:        sum.Size(),
		Checksum:    sum.Sum(),
		SubmittedAt: time.Now(),
	}

	b, err := json.Marshal(submission)
	if err != nil {
		return nil, err
	}

	if err := s.Submissions.Put(ctx, submissionKey(chunkID), b); err != nil {
		return nil, fmt.Errorf("record submission: %w", err)
	}

	return &submission, nil
}

func (s *SubmissionStore) Get(ctx context.Context, chunkID string) (*Submission, error) {
	b, err := s.Submissions.Get(ctx, submissionKey(chunkID))
	if err != nil {
		return nil, err
	}

	var submission Submission
	if err := json.Unmarshal(b, &submission); err != nil {
		return nil, err
	}

	return &submission, nil
}

// All returns every ledger entry ordered by chunk id.
func (s *SubmissionStore) All(ctx context.Context) ([]*Submission, error) {
	submissions := make([]*Submission, 0)

	res, err := s.Submissions.Query(ctx, dsq.Query{Prefix: "/chunks"})
	if err != nil {
		return submissions, err
	}
	defer res.Close()

	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}

		if r.Error != nil {
			return submissions, r.Error
		}

		var submission Submission
		if err := json.Unmarshal(r.Value, &submission); err != nil {
			return submissions, err
		}
		submissions = append(submissions, &submission)
	}

	sort.Slice(submissions, func(i, j int) bool {
		return submissions[i].ChunkID < submissions[j].ChunkID
	})

	return submissions, nil
}

func (s *SubmissionStore) Close() error {
	return s.Submissions.Close()
}
