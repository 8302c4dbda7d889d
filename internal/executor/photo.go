package executor

import (
	"context"
	"fmt"

	"outcome-engine/internal/domain"
)

// PhotoExecutor is the passthrough path: it republishes the captured asset
// as the outcome, optionally under a configured overlay. No AI call is made
// and no network cost is incurred beyond storage I/O.
type PhotoExecutor struct{}

func NewPhotoExecutor() *PhotoExecutor {
	return &PhotoExecutor{}
}

func (e *PhotoExecutor) Execute(ctx context.Context, ec ExecContext) (*Artifact, error) {
	cfg := ec.Snapshot.OutcomeConfig.Photo
	if cfg == nil {
		return nil, domain.Errf(domain.ErrorKindInvalidInput, "photo outcome has no config")
	}

	ec.progress("locating capture", 10, "")
	resp, err := resolveCaptureResponse(ec, cfg.CaptureStepID)
	if err != nil {
		return nil, err
	}

	ec.progress("loading capture", 30, "")
	data, err := ec.Store.Read(ctx, resp.AssetPath)
	if err != nil {
		return nil, domain.WrapErr(domain.ErrorKindStorageError, fmt.Errorf("read captured asset: %w", err))
	}

	if cfg.Overlay != nil {
		ec.progress("applying overlay", 60, "")
		data, err = applyOverlay(ctx, ec, data, cfg.Overlay)
		if err != nil {
			return nil, err
		}
	}

	ec.progress("uploading", 85, "")
	return uploadArtifact(ctx, ec, data, "image/png")
}

var _ Executor = (*PhotoExecutor)(nil)
