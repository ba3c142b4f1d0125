package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pyropy/pmkfleet/lib/checksum"
	"github.com/pyropy/pmkfleet/lib/logger"
	rpc "github.com/pyropy/pmkfleet/rpc/coordinator"
)

var log, _ = logger.New("worker")

var (
	ErrNoWork           = errors.New("no chunks left to batch")
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrBadChunkName     = errors.New("coordinator sent an unusable chunk name")
)

// Client talks to the coordinator HTTP API on behalf of one worker process.
type Client struct {
	baseURL  string
	clientID string
	workDir  string
	http     *http.Client
}

func NewClient(baseURL, clientID, workDir string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		workDir:  workDir,
		http: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set(rpc.ClientIDHeader, c.clientID)
	return req, nil
}

func (c *Client) call(ctx context.Context, method, path string, args any, reply any) error {
	var body io.Reader
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	if args != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return statusError(res)
	}

	if reply == nil {
		_, err = io.Copy(io.Discard, res.Body)
		return err
	}

	return json.NewDecoder(res.Body).Decode(reply)
}

func statusError(res *http.Response) error {
	var reply rpc.ErrorReply
	if err := json.NewDecoder(io.LimitReader(res.Body, 4096)).Decode(&reply); err == nil && reply.Error != "" {
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, res.StatusCode, reply.Error)
	}

	return fmt.Errorf("%w: %d", ErrUnexpectedStatus, res.StatusCode)
}

// Heartbeat checks that the coordinator is reachable.
func (c *Client) Heartbeat(ctx context.Context) error {
	var reply rpc.HeartbeatReply
	return c.call(ctx, http.MethodGet, rpc.HeartbeatPath, nil, &reply)
}

func (c *Client) Connect(ctx context.Context) error {
	var reply rpc.ConnectReply
	return c.call(ctx, http.MethodGet, rpc.ConnectPath, nil, &reply)
}

// LeaseChunk leases the next chunk and downloads it into the work directory.
// It returns the chunk id and the local path, or ErrNoWork once the
// coordinator has nothing left.
func (c *Client) LeaseChunk(ctx context.Context) (string, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rpc.GetTodoChunkPath, nil)
	if err != nil {
		return "", "", err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return "", "", err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", "", ErrNoWork
	default:
		return "", "", statusError(res)
	}

	chunkID, err := chunkName(res.Header.Get("Content-Disposition"))
	if err != nil {
		return "", "", err
	}

	path := filepath.Join(c.workDir, chunkID)
	f, err := os.Create(path)
	if err != nil {
		return chunkID, "", err
	}

	sum := checksum.NewWriter()
	if _, err := io.Copy(io.MultiWriter(f, sum), res.Body); err != nil {
		f.Close()
		os.Remove(path)
		return chunkID, "", fmt.Errorf("download %s: %w", chunkID, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return chunkID, "", err
	}

	log.Debugw("client", "event", "LeaseChunk", "chunkID", chunkID, "size", sum.Size(), "sha256", sum.Sum())
	return chunkID, path, nil
}

func chunkName(disposition string) (string, error) {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadChunkName, err)
	}

	name := params["filename"]
	if name == "" || name == "null" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrBadChunkName, name)
	}

	return name, nil
}

// SubmitChunk uploads the processed chunk at path as a multipart file named
// chunkID. The body is streamed.
func (c *Client) SubmitChunk(ctx context.Context, chunkID, path string) (*rpc.SubmitChunkReply, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile(rpc.FileField, chunkID)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}

		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, rpc.SubmitChunkPath, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.http.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, statusError(res)
	}

	var reply rpc.SubmitChunkReply
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return nil, err
	}

	return &reply, nil
}

func (c *Client) SendPerformance(ctx context.Context, performance int64) error {
	args := rpc.PerformanceInfoArgs{ClientID: c.clientID, Performance: &performance}
	var reply rpc.StatusReply
	return c.call(ctx, http.MethodPost, rpc.SendPerformanceInfoPath, args, &reply)
}

// JobDone tells the coordinator this worker is leaving.
func (c *Client) JobDone(ctx context.Context) error {
	var reply rpc.StatusReply
	return c.call(ctx, http.MethodPost, rpc.ClientJobDonePath, rpc.ClientJobDoneArgs{ClientID: c.clientID}, &reply)
}
