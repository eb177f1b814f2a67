package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CanopyNet/canopy-core/internal/api"
	"github.com/CanopyNet/canopy-core/internal/progress"
	"github.com/CanopyNet/canopy-core/internal/session"
	"github.com/CanopyNet/canopy-core/internal/transfer"
	workerpool "github.com/CanopyNet/canopy-core/internal/worker"
)

const (
	UploadStatusCompleted = "completed"
	UploadStatusFailed    = "failed"
)

// UploadResult is the outcome of one transferred file.
type UploadResult struct {
	File      string        `json:"file"`
	Size      int64         `json:"size"`
	SHA256    string        `json:"sha256,omitempty"`
	Status    string        `json:"status"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// UploadReport covers a whole run: one result per scanned file plus the
// manifest the server returned at completion.
type UploadReport struct {
	SessionID string            `json:"session_id"`
	Results   []UploadResult    `json:"results"`
	Manifest  *session.Manifest `json:"manifest,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

type UploadOptions struct {
	UserID       string
	Exclude      []string
	ShowProgress bool
}

// Uploader pushes a directory to a canopy server over the chunked HTTP
// API. File reads go through the transfer pool, so hashing and the
// per-file read-ahead run in parallel while chunks leave in order.
type Uploader struct {
	serverURL string
	client    *http.Client
	mgr       *transfer.Manager
	logger    *zap.Logger
}

func NewUploader(serverURL string, mgr *transfer.Manager, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		serverURL: strings.TrimRight(serverURL, "/"),
		client:    &http.Client{Timeout: 5 * time.Minute},
		mgr:       mgr,
		logger:    logger,
	}
}

// Upload scans root, declares the files, streams them chunk by chunk
// and completes the session. Per-file failures are recorded in the
// report and do not stop the remaining files; only setup errors and a
// cancelled context abort the run.
func (u *Uploader) Upload(ctx context.Context, root string, opts UploadOptions) (*UploadReport, error) {
	start := time.Now()

	specs, totalBytes, err := NewScanner(opts.Exclude).Scan(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no files to upload under %s", root)
	}

	if err := u.hashSpecs(ctx, specs); err != nil {
		return nil, err
	}

	metas := make([]transfer.FileMeta, len(specs))
	for i, spec := range specs {
		metas[i] = spec.Meta
	}

	init, err := u.initSession(ctx, opts.UserID, metas)
	if err != nil {
		return nil, err
	}
	u.logger.Info("session opened",
		zap.String("session_id", init.SessionID),
		zap.Int("files", len(specs)),
		zap.Int64("bytes", totalBytes))

	// The server's chunk size is authoritative: write offsets on the
	// other side are computed as index times that size.
	chunkSize := init.ChunkSize

	var reporter *progress.Reporter
	var tracker *progress.Tracker
	if opts.ShowProgress {
		reporter = progress.NewReporter(progress.Options{
			TotalBytes: totalBytes,
			TotalFiles: len(specs),
			Workers:    u.mgr.Stats().MaxWorkers,
			Target:     u.serverURL,
		})
		tracker = reporter.Tracker()
		reporter.Start()
		defer reporter.Stop()
	}

	report := &UploadReport{SessionID: init.SessionID}
	for _, spec := range specs {
		res := u.uploadFile(ctx, init, spec, chunkSize, tracker)
		report.Results = append(report.Results, res)
		if ctx.Err() != nil {
			u.cancelSession(init)
			return report, ctx.Err()
		}
	}

	manifest, err := u.complete(ctx, init)
	if err != nil {
		return report, err
	}
	report.Manifest = manifest
	report.Duration = time.Since(start)
	return report, nil
}

// hashSpecs fills in the whole-file digests, reading files in parallel
// on the transfer pool. SubmitBatch keeps results in task order, so
// results line up with specs by index.
func (u *Uploader) hashSpecs(ctx context.Context, specs []FileSpec) error {
	tasks := make([]workerpool.Task, len(specs))
	for i, spec := range specs {
		tasks[i] = workerpool.Task{
			ID: "hash_" + spec.Meta.RelPath,
			Op: transfer.HashFile{Path: spec.AbsPath},
		}
	}

	results := u.mgr.Pool().SubmitBatch(ctx, tasks, nil)
	for i, res := range results {
		if !res.Success {
			return fmt.Errorf("hash %s: %w", specs[i].Meta.RelPath, res.Err)
		}
		specs[i].Meta.SHA256 = res.Payload.(string)
	}
	return nil
}

func (u *Uploader) uploadFile(ctx context.Context, init *api.InitResponse, spec FileSpec, chunkSize int64, tracker *progress.Tracker) UploadResult {
	start := time.Now()
	result := UploadResult{
		File:   spec.Meta.RelPath,
		Size:   spec.Meta.Size,
		SHA256: spec.Meta.SHA256,
	}
	fail := func(err error) UploadResult {
		result.Status = UploadStatusFailed
		result.Error = err.Error()
		result.Duration = time.Since(start)
		if tracker != nil {
			tracker.FileFailed()
		}
		u.logger.Warn("file upload failed",
			zap.String("file", spec.Meta.RelPath),
			zap.Error(err))
		return result
	}

	if spec.Meta.Size == 0 {
		if _, err := u.postChunk(ctx, init, spec.Meta.RelPath, 0, nil, true); err != nil {
			return fail(err)
		}
		result.Status = UploadStatusCompleted
		result.Duration = time.Since(start)
		if tracker != nil {
			tracker.FileDone()
		}
		return result
	}

	stream, err := u.mgr.StreamFile(ctx, spec.AbsPath, chunkSize, 0)
	if err != nil {
		return fail(err)
	}
	defer stream.Close()

	last := stream.NumChunks() - 1
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}
		resp, err := u.postChunk(ctx, init, spec.Meta.RelPath, chunk.Index, chunk.Data, chunk.Index == last)
		if err != nil {
			return fail(err)
		}
		if tracker != nil {
			tracker.AddBytes(chunk.Size())
		}
		if resp.Duplicate {
			result.Duplicate = true
		}
	}

	result.Status = UploadStatusCompleted
	result.Duration = time.Since(start)
	if tracker != nil {
		tracker.FileDone()
	}
	return result
}

func (u *Uploader) initSession(ctx context.Context, userID string, metas []transfer.FileMeta) (*api.InitResponse, error) {
	body, err := json.Marshal(api.InitRequest{UserID: userID, Files: metas})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		u.serverURL+"/api/v1/upload/init", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("init session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("init session: %w", serverError(resp))
	}

	var initResp api.InitResponse
	if err := json.NewDecoder(resp.Body).Decode(&initResp); err != nil {
		return nil, fmt.Errorf("init session: decode response: %w", err)
	}
	return &initResp, nil
}

func (u *Uploader) postChunk(ctx context.Context, init *api.InitResponse, rel string, index int64, data []byte, lastChunk bool) (*api.ChunkResponse, error) {
	url := fmt.Sprintf("%s/api/v1/upload/%s/chunk", u.serverURL, init.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+init.Token)
	req.Header.Set("X-File-Path", rel)
	req.Header.Set("X-Chunk-Index", strconv.FormatInt(index, 10))
	if lastChunk {
		req.Header.Set("X-Last-Chunk", "true")
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send chunk %d: %w", index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("send chunk %d: %w", index, serverError(resp))
	}

	var chunkResp api.ChunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&chunkResp); err != nil {
		return nil, fmt.Errorf("send chunk %d: decode response: %w", index, err)
	}
	return &chunkResp, nil
}

func (u *Uploader) complete(ctx context.Context, init *api.InitResponse) (*session.Manifest, error) {
	url := fmt.Sprintf("%s/api/v1/upload/%s/complete", u.serverURL, init.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+init.Token)

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("complete session: %w", serverError(resp))
	}

	var manifest session.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("complete session: decode manifest: %w", err)
	}
	return &manifest, nil
}

// cancelSession is a best-effort cleanup after a cancelled run. It uses
// its own deadline because the run's context is already dead.
func (u *Uploader) cancelSession(init *api.InitResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/v1/upload/%s/cancel", u.serverURL, init.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+init.Token)

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Debug("cancel request failed", zap.Error(err))
		return
	}
	resp.Body.Close()
}

// serverError extracts the server's error message from a non-2xx
// response.
func serverError(resp *http.Response) error {
	var msg api.MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msg); err == nil && msg.Message != "" {
		return fmt.Errorf("%s (HTTP %d)", msg.Message, resp.StatusCode)
	}
	return errors.New(resp.Status)
}
