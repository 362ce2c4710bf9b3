package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/killianrms/vstore/internal/catalog"
	"github.com/killianrms/vstore/internal/delta"
	"github.com/killianrms/vstore/internal/gc"
	"github.com/killianrms/vstore/internal/metrics"
	"github.com/killianrms/vstore/internal/pipeline"
	"github.com/killianrms/vstore/internal/retention"
	"github.com/killianrms/vstore/internal/store"
	"github.com/killianrms/vstore/internal/vserr"
)

// Agent dispatches line-delimited JSON commands against one backup root's
// pipeline, catalog, retention manager, and garbage collector.
type Agent struct {
	layout    store.Layout
	pipeline  *pipeline.Pipeline
	cat       *catalog.Catalog
	retention *retention.Manager
	gc        *gc.Collector
	delta     *delta.Impl
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func New(layout store.Layout, p *pipeline.Pipeline, cat *catalog.Catalog, rm *retention.Manager, gcc *gc.Collector, mx *metrics.Metrics, log zerolog.Logger) *Agent {
	return &Agent{
		layout:    layout,
		pipeline:  p,
		cat:       cat,
		retention: rm,
		gc:        gcc,
		delta:     delta.NewImpl(delta.BlockSize),
		metrics:   mx,
		log:       log,
	}
}

// Run speaks the protocol over r/w until r is exhausted, a fatal error
// occurs, or ctx is cancelled (the caller wires ctx to SIGINT/SIGTERM for
// graceful shutdown, per SPEC_FULL.md's supplemented signal handling).
func (a *Agent) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	respond := func(resp Response) {
		if err := enc.Encode(resp); err != nil {
			a.log.Warn().Err(err).Msg("failed to write response, client likely gone")
		}
	}

	respond(readyHandshake())

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("shutting down on signal")
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			respond(Response{Error: "Invalid JSON"})
			continue
		}

		correlationID := uuid.NewString()
		reqLog := a.log.With().Str("correlation_id", correlationID).Str("cmd", req.Cmd).Logger()

		start := time.Now()
		resp, fatal := a.dispatch(ctx, req, reqLog)
		status := "ok"
		if resp.Status == "error" || resp.Error != "" {
			status = "error"
		}
		a.metrics.RecordCommand(req.Cmd, status, time.Since(start).Seconds())
		respond(resp)
		if fatal != nil {
			reqLog.Error().Err(fatal).Msg("fatal agent error")
			return fatal
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("agent: read loop: %w", err)
	}
	return nil
}

// RunStdio runs the protocol over the process's stdin/stdout.
func (a *Agent) RunStdio(ctx context.Context) error {
	return a.Run(ctx, os.Stdin, os.Stdout)
}

// dispatch handles one command, returning the response to send and, if
// non-nil, a fatal error that should end the connection entirely. A
// per-command error surfaces as an {"status":"error",...} response
// without being fatal, mirroring the "unknown command doesn't close the
// connection; only a fatal error does" behavior of the original protocol.
func (a *Agent) dispatch(ctx context.Context, req Request, log zerolog.Logger) (Response, error) {
	switch req.Cmd {
	case "ping":
		return Response{Pong: true}, nil
	case "save_version":
		return a.handleSaveVersion(ctx, req, log), nil
	case "delete_file":
		return a.handleDeleteFile(ctx, req, log), nil
	case "get_signature":
		return a.handleGetSignature(ctx, req, log), nil
	case "save_delta":
		return a.handleSaveDelta(ctx, req, log), nil
	case "get_stats":
		return a.handleGetStats(ctx, log), nil
	case "prune":
		return a.handlePrune(ctx, req, log), nil
	case "gc":
		return a.handleGC(ctx, log), nil
	default:
		return Response{Error: fmt.Sprintf("Unknown command: %s", req.Cmd)}, nil
	}
}

func errResponse(err error) Response {
	return Response{Status: "error", Message: err.Error()}
}

// validatedPath runs every path-touching command through
// store.ValidatePath, including get_signature — the original protocol's
// documented gap (its get_signature never validated the path, relying on
// the path simply not matching any DB row) is closed here uniformly.
func (a *Agent) validatedPath(relPath string) (string, error) {
	return store.ValidatePath(a.layout.Root, relPath)
}

func (a *Agent) handleSaveVersion(ctx context.Context, req Request, log zerolog.Logger) Response {
	relPath, err := a.validatedPath(req.Path)
	if err != nil {
		return errResponse(err)
	}

	tmp, err := os.CreateTemp("", "agent_upload_*")
	if err != nil {
		return errResponse(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(req.Data); err != nil {
		tmp.Close()
		return errResponse(err)
	}
	tmp.Close()

	if _, err := a.pipeline.SaveVersion(ctx, relPath, tmpPath); err != nil {
		log.Warn().Err(err).Str("path", relPath).Msg("save_version failed")
		return errResponse(err)
	}
	return Response{Status: "ok", Path: relPath}
}

func (a *Agent) handleDeleteFile(ctx context.Context, req Request, log zerolog.Logger) Response {
	relPath, err := a.validatedPath(req.Path)
	if err != nil {
		return errResponse(err)
	}
	if err := a.pipeline.DeleteFile(ctx, relPath); err != nil {
		log.Warn().Err(err).Str("path", relPath).Msg("delete_file failed")
		return errResponse(err)
	}
	return Response{Status: "ok"}
}

func (a *Agent) handleGetSignature(ctx context.Context, req Request, log zerolog.Logger) Response {
	relPath, err := a.validatedPath(req.Path)
	if err != nil {
		return errResponse(err)
	}

	baselinePath, cleanup, err := a.pipeline.MaterializeLatest(ctx, relPath)
	if errors.Is(err, vserr.ErrNotFound) {
		return Response{Status: "not_found"}
	}
	if err != nil {
		log.Warn().Err(err).Str("path", relPath).Msg("get_signature failed")
		return errResponse(err)
	}
	defer cleanup()

	f, err := os.Open(baselinePath)
	if err != nil {
		return errResponse(err)
	}
	defer f.Close()

	sig, err := a.delta.Signature(ctx, f)
	if err != nil {
		return errResponse(err)
	}
	return Response{Status: "ok", Signature: sig}
}

func (a *Agent) handleSaveDelta(ctx context.Context, req Request, log zerolog.Logger) Response {
	relPath, err := a.validatedPath(req.Path)
	if err != nil {
		return errResponse(err)
	}
	if req.Delta == nil {
		return errResponse(fmt.Errorf("missing delta data"))
	}

	baselinePath, cleanup, err := a.pipeline.MaterializeLatest(ctx, relPath)
	if err != nil && !errors.Is(err, vserr.ErrNotFound) {
		log.Warn().Err(err).Str("path", relPath).Msg("save_delta baseline materialization failed")
		return errResponse(err)
	}

	var reconstructed string
	if err == nil {
		defer cleanup()
		baseline, ferr := os.Open(baselinePath)
		if ferr != nil {
			return errResponse(ferr)
		}
		defer baseline.Close()

		out, terr := os.CreateTemp("", "agent_delta_*")
		if terr != nil {
			return errResponse(terr)
		}
		reconstructed = out.Name()
		defer os.Remove(reconstructed)

		if aerr := a.delta.Apply(ctx, baseline, req.Delta, out); aerr != nil {
			out.Close()
			return errResponse(aerr)
		}
		out.Close()
	} else {
		// No prior baseline: treat as a whole-file literal (save_delta
		// against a never-seen path just becomes a normal save).
		out, terr := os.CreateTemp("", "agent_delta_*")
		if terr != nil {
			return errResponse(terr)
		}
		reconstructed = out.Name()
		defer os.Remove(reconstructed)
		for _, op := range req.Delta.Ops {
			if _, werr := out.Write(op.Data); werr != nil {
				out.Close()
				return errResponse(werr)
			}
		}
		out.Close()
	}

	v, err := a.pipeline.SaveVersion(ctx, relPath, reconstructed)
	if err != nil {
		log.Warn().Err(err).Str("path", relPath).Msg("save_delta commit failed")
		return errResponse(err)
	}

	if v != nil {
		transferSize := delta.TransferSize(req.Delta)
		adopted := delta.AdoptionGate(v.PlaintextSize, transferSize)
		a.metrics.RecordDeltaTransfer(adopted, transferSize, v.PlaintextSize)
	}
	return Response{Status: "ok", Path: relPath}
}

func (a *Agent) handleGetStats(ctx context.Context, log zerolog.Logger) Response {
	stats, err := a.cat.GlobalStats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("get_stats failed")
		return errResponse(err)
	}
	return Response{Status: "ok", Stats: stats}
}

func (a *Agent) handlePrune(ctx context.Context, req Request, log zerolog.Logger) Response {
	start := time.Now()
	now := start.UTC()
	if req.Path != "" {
		relPath, err := a.validatedPath(req.Path)
		if err != nil {
			return errResponse(err)
		}
		result, err := a.retention.PruneHistory(ctx, relPath, now, false)
		if err != nil {
			log.Warn().Err(err).Str("path", relPath).Msg("prune failed")
			return errResponse(err)
		}
		a.metrics.RecordRetentionRun(time.Since(start).Seconds(), result.Pruned)
		return Response{Status: "ok", Pruned: result.Pruned}
	}

	results, err := a.retention.PruneAll(ctx, now, false)
	if err != nil {
		log.Warn().Err(err).Msg("prune-all failed")
		return errResponse(err)
	}
	total := 0
	for _, r := range results {
		total += r.Pruned
	}
	a.metrics.RecordRetentionRun(time.Since(start).Seconds(), total)
	return Response{Status: "ok", Pruned: total}
}

func (a *Agent) handleGC(ctx context.Context, log zerolog.Logger) Response {
	start := time.Now()
	report, err := a.gc.Run(ctx)
	if errors.Is(err, vserr.ErrCatalogLocked) {
		return Response{Status: "error", Message: "garbage collection already running"}
	}
	if err != nil {
		log.Warn().Err(err).Msg("gc failed")
		return errResponse(err)
	}
	a.metrics.RecordGCRun(time.Since(start).Seconds(), report.Removed, report.ReclaimedBytes, report.Scanned)
	return Response{Status: "ok", Message: fmt.Sprintf("removed %d blocks, reclaimed %d bytes", report.Removed, report.ReclaimedBytes)}
}
