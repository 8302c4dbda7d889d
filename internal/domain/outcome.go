package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutcomeType discriminates the per-type configuration slots. Only photo and
// ai.image have executors today; the remaining types are schema placeholders
// that dispatch rejects as not implemented.
type OutcomeType string

const (
	OutcomeTypePhoto   OutcomeType = "photo"
	OutcomeTypeAIImage OutcomeType = "ai.image"
	OutcomeTypeGIF     OutcomeType = "gif"
	OutcomeTypeVideo   OutcomeType = "video"
	OutcomeTypeAIVideo OutcomeType = "ai.video"
)

// OutcomeSchemaVersion is recorded into job snapshots so historical
// documents can be interpreted after schema changes.
const OutcomeSchemaVersion = 3

// AITask selects how the AI image executor sources its input.
type AITask string

const (
	AITaskTextToImage  AITask = "text-to-image"
	AITaskImageToImage AITask = "image-to-image"
)

var allowedAspectRatios = map[string]struct{}{
	"1:1":  {},
	"4:3":  {},
	"3:4":  {},
	"16:9": {},
	"9:16": {},
}

// DefaultAspectRatio is applied when a configuration omits the ratio.
const DefaultAspectRatio = "1:1"

// ValidAspectRatio reports whether the ratio is one the renderers support.
func ValidAspectRatio(ratio string) bool {
	_, ok := allowedAspectRatios[ratio]
	return ok
}

// RefMedia is one uploaded reference asset a prompt template can mention by
// display name. Display names are unique within one outcome.
type RefMedia struct {
	MediaAssetID string `json:"media_asset_id"`
	URL          string `json:"url"`
	FilePath     string `json:"file_path,omitempty"`
	DisplayName  string `json:"display_name"`
}

// GenerationConfig describes the AI call for an ai.image outcome. A nil
// AspectRatio inherits the parent outcome's ratio; that cascade is an
// explicit rule, not an omission.
type GenerationConfig struct {
	Prompt      string     `json:"prompt"`
	Model       string     `json:"model"`
	RefMedia    []RefMedia `json:"ref_media,omitempty"`
	AspectRatio *string    `json:"aspect_ratio,omitempty"`
}

// OverlayConfig points at a frame/overlay image composited onto the
// produced artifact.
type OverlayConfig struct {
	AssetPath string `json:"asset_path"`
	URL       string `json:"url,omitempty"`
}

// PhotoConfig configures the passthrough outcome.
type PhotoConfig struct {
	CaptureStepID string         `json:"capture_step_id"`
	AspectRatio   string         `json:"aspect_ratio"`
	Overlay       *OverlayConfig `json:"overlay,omitempty"`
}

// AIImageConfig configures the AI image outcome.
type AIImageConfig struct {
	Task          AITask           `json:"task"`
	CaptureStepID string           `json:"capture_step_id,omitempty"`
	AspectRatio   string           `json:"aspect_ratio"`
	Generation    GenerationConfig `json:"generation"`
	Overlay       *OverlayConfig   `json:"overlay,omitempty"`
}

// EffectiveAspectRatio resolves the generation-level cascade.
func (c *AIImageConfig) EffectiveAspectRatio() string {
	if c.Generation.AspectRatio != nil && *c.Generation.AspectRatio != "" {
		return *c.Generation.AspectRatio
	}
	if c.AspectRatio != "" {
		return c.AspectRatio
	}
	return DefaultAspectRatio
}

// GIFConfig is a schema placeholder; no executor ships for it yet.
type GIFConfig struct {
	CaptureStepID string `json:"capture_step_id"`
	FrameCount    int    `json:"frame_count,omitempty"`
}

// VideoConfig is a schema placeholder; no executor ships for it yet.
type VideoConfig struct {
	CaptureStepID string `json:"capture_step_id"`
	MaxSeconds    int    `json:"max_seconds,omitempty"`
}

// AIVideoConfig is a schema placeholder; no executor ships for it yet.
type AIVideoConfig struct {
	Generation GenerationConfig `json:"generation"`
}

// Outcome is the per-experience outcome configuration, discriminated by
// Type. All five per-type slots persist across type switches (only the slot
// matching Type is authoritative) so a creator can flip between types
// without losing prior settings. An empty Type means no outcome is
// configured and admission must refuse.
type Outcome struct {
	Type    OutcomeType    `json:"type,omitempty"`
	Photo   *PhotoConfig   `json:"photo,omitempty"`
	AIImage *AIImageConfig `json:"ai_image,omitempty"`
	GIF     *GIFConfig     `json:"gif,omitempty"`
	Video   *VideoConfig   `json:"video,omitempty"`
	AIVideo *AIVideoConfig `json:"ai_video,omitempty"`
}

// outcomeAlias avoids UnmarshalJSON recursion.
type outcomeAlias Outcome

// legacyOutcome carries fields from the retired flat schema: a boolean AI
// toggle with capture/aspect/generation at the top level. Historical and
// in-flight documents still decode; unknown fields are discarded rather
// than failing closed. No in-place migration happens on the hot path.
type legacyOutcome struct {
	AIEnabled     *bool             `json:"aiEnabled,omitempty"`
	CaptureStepID string            `json:"captureStepId,omitempty"`
	AspectRatio   string            `json:"aspectRatio,omitempty"`
	Generation    *GenerationConfig `json:"generation,omitempty"`
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var aux struct {
		outcomeAlias
		legacyOutcome
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*o = Outcome(aux.outcomeAlias)
	if o.Type != "" || aux.AIEnabled == nil {
		return nil
	}
	// Flat legacy record with no discriminator: lift it into the slot the
	// toggle selects.
	aspect := aux.legacyOutcome.AspectRatio
	if aspect == "" {
		aspect = DefaultAspectRatio
	}
	if !*aux.AIEnabled {
		o.Type = OutcomeTypePhoto
		if o.Photo == nil {
			o.Photo = &PhotoConfig{CaptureStepID: aux.legacyOutcome.CaptureStepID, AspectRatio: aspect}
		}
		return nil
	}
	o.Type = OutcomeTypeAIImage
	if o.AIImage == nil {
		cfg := &AIImageConfig{
			Task:        AITaskTextToImage,
			AspectRatio: aspect,
		}
		if aux.legacyOutcome.Generation != nil {
			cfg.Generation = *aux.legacyOutcome.Generation
		}
		if aux.legacyOutcome.CaptureStepID != "" {
			cfg.Task = AITaskImageToImage
			cfg.CaptureStepID = aux.legacyOutcome.CaptureStepID
		}
		o.AIImage = cfg
	}
	return nil
}

// Validate checks the outcome is admissible: a known type, its slot
// populated and internally consistent, reference-media display names
// unique. Runs at admission so misconfiguration never produces a job.
func (o *Outcome) Validate() error {
	if o == nil || o.Type == "" {
		return ErrOutcomeNotConfigured
	}
	switch o.Type {
	case OutcomeTypePhoto:
		if o.Photo == nil {
			return fmt.Errorf("%w: type %q has no config", ErrOutcomeMisconfigured, o.Type)
		}
		return o.Photo.validate()
	case OutcomeTypeAIImage:
		if o.AIImage == nil {
			return fmt.Errorf("%w: type %q has no config", ErrOutcomeMisconfigured, o.Type)
		}
		return o.AIImage.validate()
	case OutcomeTypeGIF, OutcomeTypeVideo, OutcomeTypeAIVideo:
		// Declared types without executors are valid configuration; dispatch
		// rejects them at execution time.
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrOutcomeMisconfigured, o.Type)
	}
}

func (c *PhotoConfig) validate() error {
	if strings.TrimSpace(c.CaptureStepID) == "" {
		return fmt.Errorf("%w: photo outcome requires capture_step_id", ErrOutcomeMisconfigured)
	}
	if c.AspectRatio != "" && !ValidAspectRatio(c.AspectRatio) {
		return fmt.Errorf("%w: unsupported aspect ratio %q", ErrOutcomeMisconfigured, c.AspectRatio)
	}
	return nil
}

func (c *AIImageConfig) validate() error {
	switch c.Task {
	case AITaskTextToImage:
	case AITaskImageToImage:
		if strings.TrimSpace(c.CaptureStepID) == "" {
			return fmt.Errorf("%w: image-to-image requires capture_step_id", ErrOutcomeMisconfigured)
		}
	default:
		return fmt.Errorf("%w: unknown task %q", ErrOutcomeMisconfigured, c.Task)
	}
	if strings.TrimSpace(c.Generation.Prompt) == "" {
		return fmt.Errorf("%w: generation prompt is required", ErrOutcomeMisconfigured)
	}
	if c.AspectRatio != "" && !ValidAspectRatio(c.AspectRatio) {
		return fmt.Errorf("%w: unsupported aspect ratio %q", ErrOutcomeMisconfigured, c.AspectRatio)
	}
	if c.Generation.AspectRatio != nil && *c.Generation.AspectRatio != "" && !ValidAspectRatio(*c.Generation.AspectRatio) {
		return fmt.Errorf("%w: unsupported generation aspect ratio %q", ErrOutcomeMisconfigured, *c.Generation.AspectRatio)
	}
	return validateRefMedia(c.Generation.RefMedia)
}

func validateRefMedia(media []RefMedia) error {
	seen := make(map[string]struct{}, len(media))
	for _, m := range media {
		name := strings.TrimSpace(m.DisplayName)
		if name == "" {
			return fmt.Errorf("%w: reference media requires display_name", ErrOutcomeMisconfigured)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate reference media display name %q", ErrOutcomeMisconfigured, name)
		}
		seen[key] = struct{}{}
	}
	return nil
}
