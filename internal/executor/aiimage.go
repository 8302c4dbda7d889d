package executor

import (
	"context"
	"errors"
	"fmt"

	"outcome-engine/internal/domain"
	"outcome-engine/internal/genai"
	"outcome-engine/internal/prompt"
)

// AIImageExecutor produces the outcome through the external generation
// call. It is the only executor that incurs AI cost: the call is made at
// most once per attempt and is never retried on failure.
type AIImageExecutor struct{}

func NewAIImageExecutor() *AIImageExecutor {
	return &AIImageExecutor{}
}

func (e *AIImageExecutor) Execute(ctx context.Context, ec ExecContext) (*Artifact, error) {
	cfg := ec.Snapshot.OutcomeConfig.AIImage
	if cfg == nil {
		return nil, domain.Errf(domain.ErrorKindInvalidInput, "ai.image outcome has no config")
	}

	var sourceImage *genai.InputImage
	if cfg.Task == domain.AITaskImageToImage {
		if cfg.CaptureStepID == "" {
			return nil, domain.Errf(domain.ErrorKindInvalidInput, "image-to-image task has no capture step")
		}
		ec.progress("loading source image", 10, "")
		resp, err := resolveCaptureResponse(ec, cfg.CaptureStepID)
		if err != nil {
			return nil, err
		}
		data, err := ec.Store.Read(ctx, resp.AssetPath)
		if err != nil {
			return nil, domain.WrapErr(domain.ErrorKindStorageError, fmt.Errorf("read source asset: %w", err))
		}
		sourceImage = &genai.InputImage{Name: "source", MIMEType: "image/png", Data: data}
	}

	ec.progress("resolving prompt", 25, "")
	resolved, err := prompt.Resolve(cfg.Generation.Prompt, ec.Snapshot.SessionResponses, cfg.Generation.RefMedia)
	if err != nil {
		return nil, err
	}

	references, err := loadReferenceImages(ctx, ec, resolved.MediaRefs)
	if err != nil {
		return nil, err
	}

	ec.progress("generating", 45, "")
	result, err := ec.Generator.Generate(ctx, genai.GenerateRequest{
		Prompt:          resolved.Text,
		Model:           cfg.Generation.Model,
		AspectRatio:     cfg.EffectiveAspectRatio(),
		SourceImage:     sourceImage,
		ReferenceImages: references,
		RequestID:       ec.JobID,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, domain.WrapErr(domain.ErrorKindAIModelError, err)
	}
	if result == nil || len(result.Data) == 0 {
		return nil, domain.Errf(domain.ErrorKindAIModelError, "generation returned no usable image")
	}

	// Staged copy of the expensive generation output; the lifecycle runner
	// purges scratch/<jobID> after the attempt. The attempt still finishes
	// without it, losing only the recovery copy.
	stagingKey := fmt.Sprintf("scratch/%s/generated%s", ec.JobID, extensionForMIME(result.Format))
	if _, err := ec.Store.Write(ctx, stagingKey, result.Data); err != nil {
		ec.Logger.Warn().Err(err).Str("job_id", ec.JobID).Str("key", stagingKey).Msg("executor: scratch staging write failed")
	}

	data := result.Data
	if cfg.Overlay != nil {
		ec.progress("applying overlay", 75, "")
		data, err = applyOverlay(ctx, ec, data, cfg.Overlay)
		if err != nil {
			return nil, err
		}
	}

	ec.progress("uploading", 90, "")
	return uploadArtifact(ctx, ec, data, result.Format)
}

// loadReferenceImages reads the resolved attachments out of the object
// store. Entries without a stored file path ride along by name only; the
// prompt text already carries their mention.
func loadReferenceImages(ctx context.Context, ec ExecContext, refs []prompt.MediaRef) ([]genai.InputImage, error) {
	var images []genai.InputImage
	for _, ref := range refs {
		if ref.Path == "" {
			continue
		}
		data, err := ec.Store.Read(ctx, ref.Path)
		if err != nil {
			return nil, domain.WrapErr(domain.ErrorKindStorageError, fmt.Errorf("read reference media %q: %w", ref.Name, err))
		}
		images = append(images, genai.InputImage{Name: ref.Name, MIMEType: "image/png", Data: data})
	}
	return images, nil
}

var _ Executor = (*AIImageExecutor)(nil)
