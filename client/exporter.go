package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/mirrormate/backend/models"
)

// Encoding tiers, tried in order until the output fits the target
// size. Remux is free (no re-encode) so it goes first.
var (
	remuxArgs   = []string{"-c", "copy", "-movflags", "+faststart"}
	mediumArgs  = []string{"-c:v", "libx264", "-preset", "medium", "-crf", "26", "-c:a", "aac", "-b:a", "96k", "-movflags", "+faststart"}
	lowArgs     = []string{"-c:v", "libx264", "-preset", "fast", "-crf", "32", "-vf", "scale=-2:480", "-c:a", "aac", "-b:a", "64k", "-movflags", "+faststart"}
	tierNames   = []string{"remux", "medium", "low"}
	tierArgSets = [][]string{remuxArgs, mediumArgs, lowArgs}
)

// Exporter converts a captured recording into an MP4 small enough for
// the analysis pipeline, degrading quality until it fits.
type Exporter struct {
	FFmpegPath  string
	MaxSizeMB   float64 // preferred ceiling; triggers the next tier
	HardLimitMB float64 // absolute ceiling; exceeding it fails the export

	// encode runs one ffmpeg pass; swapped out in tests.
	encode func(ctx context.Context, input, output string, args []string) error
}

func NewExporter() *Exporter {
	e := &Exporter{
		FFmpegPath:  "ffmpeg",
		MaxSizeMB:   18,
		HardLimitMB: 20,
	}
	e.encode = e.runFFmpeg
	return e
}

func (e *Exporter) runFFmpeg(ctx context.Context, input, output string, args []string) error {
	cmdArgs := append([]string{"-y", "-i", input}, args...)
	cmdArgs = append(cmdArgs, output)
	cmd := exec.CommandContext(ctx, e.FFmpegPath, cmdArgs...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, string(out))
	}
	return nil
}

func (e *Exporter) maxBytes() int64  { return int64(e.MaxSizeMB * 1024 * 1024) }
func (e *Exporter) hardBytes() int64 { return int64(e.HardLimitMB * 1024 * 1024) }

// ExportMP4 produces an MP4 for inputPath under outputDir. It first
// remuxes without re-encoding; if that fails (codec not MP4-safe) or
// the result is oversized, it re-encodes at progressively lower
// quality. The last tier's output is returned even when it only fits
// the hard limit, not the preferred one.
func (e *Exporter) ExportMP4(ctx context.Context, inputPath, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}

	base := filepath.Base(inputPath)
	base = base[:len(base)-len(filepath.Ext(base))]

	var lastSize int64
	for i, args := range tierArgSets {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		output := filepath.Join(outputDir, fmt.Sprintf("%s_%s.mp4", base, tierNames[i]))
		if err := e.encode(ctx, inputPath, output, args); err != nil {
			slog.Warn("Export tier failed", "tier", tierNames[i], "error", err)
			// Remux commonly fails on non-MP4 codecs; fall through to
			// a real re-encode. A failed re-encode is terminal.
			if i == 0 {
				continue
			}
			return "", err
		}

		info, err := os.Stat(output)
		if err != nil {
			return "", err
		}
		lastSize = info.Size()

		if lastSize <= e.maxBytes() {
			return output, nil
		}

		slog.Info("Export output oversized, degrading quality",
			"tier", tierNames[i], "size_bytes", lastSize, "max_bytes", e.maxBytes())

		if i == len(tierArgSets)-1 && lastSize <= e.hardBytes() {
			return output, nil
		}
		os.Remove(output)
	}

	return "", &models.PayloadTooLargeError{SizeBytes: lastSize, MaxBytes: e.hardBytes()}
}
