package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Orchestrator drives a full analysis run: quota gate, export, session
// creation, upload, finalize, poll. It is the one-call path an app
// wires to its "Analyze" button.
type Orchestrator struct {
	Client     *Client
	Exporter   *Exporter
	Poller     *Poller
	LocalQuota *LocalQuota

	// OnProgress receives poll observations, when set.
	OnProgress func(SessionStatus)
}

func NewOrchestrator(client *Client, quotaPath string) *Orchestrator {
	return &Orchestrator{
		Client:     client,
		Exporter:   NewExporter(),
		Poller:     NewPoller(client),
		LocalQuota: NewLocalQuota(quotaPath),
	}
}

// ErrQuotaExhausted is returned when today's analysis allowance is
// spent.
var ErrQuotaExhausted = fmt.Errorf("daily analysis limit reached")

// checkQuota consults the backend, falling back to the local shadow
// when the backend is unreachable.
func (o *Orchestrator) checkQuota(ctx context.Context) error {
	status, err := o.Client.CanAnalyzeToday(ctx)
	if err != nil {
		slog.Warn("Quota check against backend failed, using local record", "error", err)
		if !o.LocalQuota.CanAnalyzeToday() {
			return ErrQuotaExhausted
		}
		return nil
	}
	if !status.CanAnalyze {
		return ErrQuotaExhausted
	}
	return nil
}

// markQuotaUsed records the spent allowance on both the backend and
// the local shadow, best-effort.
func (o *Orchestrator) markQuotaUsed(ctx context.Context) {
	if err := o.Client.ConsumeQuota(ctx); err != nil {
		slog.Warn("Failed to record quota on backend", "error", err)
	}
	if err := o.LocalQuota.MarkUsed(); err != nil {
		slog.Warn("Failed to record quota locally", "error", err)
	}
}

// Analyze runs the whole pipeline for a captured recording and returns
// the finished report. The quota is consumed only after finalize
// succeeds: an export or upload failure must not burn the day's
// allowance.
func (o *Orchestrator) Analyze(ctx context.Context, recordingPath string, maxDurationSec int) (*Report, error) {
	if err := o.checkQuota(ctx); err != nil {
		return nil, err
	}

	exportDir, err := os.MkdirTemp("", "export")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(exportDir)

	videoPath, err := o.Exporter.ExportMP4(ctx, recordingPath, exportDir)
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}

	video, err := os.ReadFile(videoPath)
	if err != nil {
		return nil, err
	}

	grant, err := o.Client.InitSession(ctx, maxDurationSec)
	if err != nil {
		return nil, fmt.Errorf("session creation failed: %w", err)
	}
	slog.Info("Session created", "session_id", grant.SessionID)

	if err := o.Client.Upload(ctx, grant, video); err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	if err := o.Client.Finalize(ctx, grant.SessionID); err != nil {
		return nil, fmt.Errorf("finalize failed: %w", err)
	}

	o.markQuotaUsed(ctx)

	return o.Poller.PollUntilTerminal(ctx, grant.SessionID, o.OnProgress)
}
