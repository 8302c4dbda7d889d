// Package executor holds the per-outcome-type production logic and the
// registry dispatching to it. Executors consume an immutable job snapshot
// and produce one finished media artifact; they never re-read live
// configuration.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"outcome-engine/internal/domain"
	"outcome-engine/internal/genai"
)

// ObjectStore is the byte-blob surface executors need.
type ObjectStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) (string, error)
	URL(key string) string
}

// Generator is the external AI image-generation call.
type Generator interface {
	Generate(ctx context.Context, req genai.GenerateRequest) (*genai.ImageResult, error)
}

// ProgressFunc reports a step label and percentage while a job runs.
type ProgressFunc func(step string, percentage int, message string)

// ExecContext carries everything one execution attempt may touch: ids, the
// frozen snapshot, and the collaborators.
type ExecContext struct {
	JobID     string
	ProjectID string
	SessionID string
	Snapshot  domain.JobSnapshot
	Store     ObjectStore
	Generator Generator
	Progress  ProgressFunc
	Logger    zerolog.Logger
}

func (ec *ExecContext) progress(step string, percentage int, message string) {
	if ec.Progress != nil {
		ec.Progress(step, percentage, message)
	}
}

// Artifact is a finished, uploaded outcome.
type Artifact struct {
	AssetID    string
	StorageKey string
	URL        string
	Format     string
	Width      int
	Height     int
	SizeBytes  int64
}

// Executor produces the artifact for one outcome type.
type Executor interface {
	Execute(ctx context.Context, ec ExecContext) (*Artifact, error)
}

// resolveCaptureResponse finds the captured-asset response for a configured
// capture step. A missing response or a response without a stored asset is
// guest input the outcome cannot run on.
func resolveCaptureResponse(ec ExecContext, captureStepID string) (domain.StepResponse, error) {
	resp, ok := ec.Snapshot.SessionResponses[captureStepID]
	if !ok {
		return domain.StepResponse{}, domain.Errf(domain.ErrorKindInvalidInput, "no response recorded for capture step %q", captureStepID)
	}
	if strings.TrimSpace(resp.AssetPath) == "" {
		return domain.StepResponse{}, domain.Errf(domain.ErrorKindInvalidInput, "response for capture step %q has no stored asset", captureStepID)
	}
	return resp, nil
}

// uploadArtifact stores the produced bytes under the job's outcome key and
// assembles the artifact record.
func uploadArtifact(ctx context.Context, ec ExecContext, data []byte, mime string) (*Artifact, error) {
	assetID := uuid.NewString()
	key := fmt.Sprintf("outcomes/%s/%s/%s%s", ec.ProjectID, ec.JobID, assetID, extensionForMIME(mime))
	storedKey, err := ec.Store.Write(ctx, key, data)
	if err != nil {
		return nil, domain.WrapErr(domain.ErrorKindStorageError, fmt.Errorf("upload artifact: %w", err))
	}
	width, height := imageDimensions(data)
	return &Artifact{
		AssetID:    assetID,
		StorageKey: storedKey,
		URL:        ec.Store.URL(storedKey),
		Format:     "image",
		Width:      width,
		Height:     height,
		SizeBytes:  int64(len(data)),
	}, nil
}

func imageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	default:
		return ".png"
	}
}
