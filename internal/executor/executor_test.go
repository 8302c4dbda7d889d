package executor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"outcome-engine/internal/domain"
	"outcome-engine/internal/genai"
)

type fakeStore struct {
	files    map[string][]byte
	written  map[string][]byte
	readErr  map[string]error
	writeErr map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files:    make(map[string][]byte),
		written:  make(map[string][]byte),
		readErr:  make(map[string]error),
		writeErr: make(map[string]error),
	}
}

func (f *fakeStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err, ok := f.readErr[key]; ok {
		return nil, err
	}
	data, ok := f.files[key]
	if !ok {
		return nil, errors.New("no such key: " + key)
	}
	return data, nil
}

func (f *fakeStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if err, ok := f.writeErr[key]; ok {
		return "", err
	}
	f.written[key] = data
	return key, nil
}

func (f *fakeStore) URL(key string) string {
	return "http://store.local/" + key
}

type fakeGenerator struct {
	lastReq *genai.GenerateRequest
	result  *genai.ImageResult
	err     error
}

func (f *fakeGenerator) Generate(ctx context.Context, req genai.GenerateRequest) (*genai.ImageResult, error) {
	f.lastReq = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func execCtx(store *fakeStore, gen *fakeGenerator, outcome domain.Outcome, responses map[string]domain.StepResponse) ExecContext {
	return ExecContext{
		JobID:     "job-1",
		ProjectID: "proj-1",
		SessionID: "sess-1",
		Snapshot: domain.JobSnapshot{
			SessionResponses: responses,
			OutcomeConfig:    outcome,
		},
		Store:     store,
		Generator: gen,
	}
}

func wantKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a %s error, got nil", kind)
	}
	if got := domain.Classify(err); got != kind {
		t.Fatalf("error kind = %q, want %q (%v)", got, kind, err)
	}
}

func TestPhotoExecutorPassthrough(t *testing.T) {
	store := newFakeStore()
	capture := pngBytes(t, 8, 6, color.RGBA{R: 200, A: 255})
	store.files["captures/a.png"] = capture

	outcome := domain.Outcome{
		Type:  domain.OutcomeTypePhoto,
		Photo: &domain.PhotoConfig{CaptureStepID: "cap-1"},
	}
	responses := map[string]domain.StepResponse{
		"cap-1": {StepID: "cap-1", Kind: domain.ResponseKindCapture, AssetPath: "captures/a.png"},
	}

	var steps []string
	ec := execCtx(store, nil, outcome, responses)
	ec.Progress = func(step string, percentage int, message string) {
		steps = append(steps, step)
	}

	artifact, err := NewPhotoExecutor().Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if artifact.AssetID == "" || artifact.URL == "" {
		t.Fatalf("artifact incomplete: %+v", artifact)
	}
	if !strings.HasPrefix(artifact.StorageKey, "outcomes/proj-1/job-1/") {
		t.Fatalf("storage key = %q", artifact.StorageKey)
	}
	if artifact.Width != 8 || artifact.Height != 6 {
		t.Fatalf("dimensions = %dx%d, want 8x6", artifact.Width, artifact.Height)
	}
	if !bytes.Equal(store.written[artifact.StorageKey], capture) {
		t.Fatal("passthrough should upload the capture bytes unchanged")
	}
	if len(steps) == 0 {
		t.Fatal("expected progress callbacks")
	}
}

func TestPhotoExecutorWithOverlay(t *testing.T) {
	store := newFakeStore()
	store.files["captures/a.png"] = pngBytes(t, 10, 10, color.RGBA{B: 255, A: 255})
	store.files["overlays/frame.png"] = pngBytes(t, 4, 4, color.RGBA{R: 255, A: 255})

	outcome := domain.Outcome{
		Type: domain.OutcomeTypePhoto,
		Photo: &domain.PhotoConfig{
			CaptureStepID: "cap-1",
			Overlay:       &domain.OverlayConfig{AssetPath: "overlays/frame.png"},
		},
	}
	responses := map[string]domain.StepResponse{
		"cap-1": {StepID: "cap-1", Kind: domain.ResponseKindCapture, AssetPath: "captures/a.png"},
	}

	artifact, err := NewPhotoExecutor().Execute(context.Background(), execCtx(store, nil, outcome, responses))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := store.written[artifact.StorageKey]
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	r, _, b, _ := img.At(5, 5).RGBA()
	if r == 0 || b != 0 {
		t.Fatalf("overlay not composited: r=%d b=%d", r, b)
	}
}

func TestPhotoExecutorMissingCapture(t *testing.T) {
	outcome := domain.Outcome{
		Type:  domain.OutcomeTypePhoto,
		Photo: &domain.PhotoConfig{CaptureStepID: "cap-1"},
	}

	_, err := NewPhotoExecutor().Execute(context.Background(), execCtx(newFakeStore(), nil, outcome, nil))
	wantKind(t, err, domain.ErrorKindInvalidInput)

	responses := map[string]domain.StepResponse{
		"cap-1": {StepID: "cap-1", Kind: domain.ResponseKindCapture},
	}
	_, err = NewPhotoExecutor().Execute(context.Background(), execCtx(newFakeStore(), nil, outcome, responses))
	wantKind(t, err, domain.ErrorKindInvalidInput)
}

func TestPhotoExecutorReadFailure(t *testing.T) {
	store := newFakeStore()
	store.readErr["captures/a.png"] = errors.New("disk gone")

	outcome := domain.Outcome{
		Type:  domain.OutcomeTypePhoto,
		Photo: &domain.PhotoConfig{CaptureStepID: "cap-1"},
	}
	responses := map[string]domain.StepResponse{
		"cap-1": {StepID: "cap-1", Kind: domain.ResponseKindCapture, AssetPath: "captures/a.png"},
	}

	_, err := NewPhotoExecutor().Execute(context.Background(), execCtx(store, nil, outcome, responses))
	wantKind(t, err, domain.ErrorKindStorageError)
}

func TestAIImageExecutorTextToImage(t *testing.T) {
	store := newFakeStore()
	store.files["media/logo.png"] = pngBytes(t, 2, 2, color.RGBA{G: 255, A: 255})

	gen := &fakeGenerator{result: &genai.ImageResult{
		Data:   pngBytes(t, 16, 9, color.RGBA{R: 10, A: 255}),
		Format: "image/png",
		Width:  16,
		Height: 9,
	}}

	outcome := domain.Outcome{
		Type: domain.OutcomeTypeAIImage,
		AIImage: &domain.AIImageConfig{
			Task:        domain.AITaskTextToImage,
			AspectRatio: "16:9",
			Generation: domain.GenerationConfig{
				Prompt: "a stage with @{media:Logo} and @{step:mood}",
				RefMedia: []domain.RefMedia{
					{MediaAssetID: "m1", DisplayName: "Logo", FilePath: "media/logo.png"},
				},
			},
		},
	}
	responses := map[string]domain.StepResponse{
		"mood": {StepID: "mood", Kind: domain.ResponseKindChoice, Value: "opt-1", PromptFragment: "festive lighting"},
	}

	artifact, err := NewAIImageExecutor().Execute(context.Background(), execCtx(store, gen, outcome, responses))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gen.lastReq == nil {
		t.Fatal("generator was not called")
	}
	if want := "a stage with Logo and festive lighting"; gen.lastReq.Prompt != want {
		t.Fatalf("prompt = %q, want %q", gen.lastReq.Prompt, want)
	}
	if gen.lastReq.AspectRatio != "16:9" {
		t.Fatalf("aspect ratio = %q", gen.lastReq.AspectRatio)
	}
	if gen.lastReq.SourceImage != nil {
		t.Fatal("text-to-image must not carry a source image")
	}
	if len(gen.lastReq.ReferenceImages) != 1 || gen.lastReq.ReferenceImages[0].Name != "Logo" {
		t.Fatalf("reference images = %+v", gen.lastReq.ReferenceImages)
	}
	if _, staged := store.written["scratch/job-1/generated.png"]; !staged {
		t.Fatal("expected the generation output staged under scratch/")
	}
	if !strings.HasPrefix(artifact.StorageKey, "outcomes/proj-1/job-1/") {
		t.Fatalf("storage key = %q", artifact.StorageKey)
	}
}

func TestAIImageExecutorImageToImage(t *testing.T) {
	store := newFakeStore()
	source := pngBytes(t, 4, 4, color.RGBA{B: 200, A: 255})
	store.files["captures/selfie.png"] = source

	gen := &fakeGenerator{result: &genai.ImageResult{
		Data:   pngBytes(t, 4, 4, color.RGBA{R: 200, A: 255}),
		Format: "image/png",
	}}

	outcome := domain.Outcome{
		Type: domain.OutcomeTypeAIImage,
		AIImage: &domain.AIImageConfig{
			Task:          domain.AITaskImageToImage,
			CaptureStepID: "cap-1",
			Generation:    domain.GenerationConfig{Prompt: "make it watercolor"},
		},
	}
	responses := map[string]domain.StepResponse{
		"cap-1": {StepID: "cap-1", Kind: domain.ResponseKindCapture, AssetPath: "captures/selfie.png"},
	}

	if _, err := NewAIImageExecutor().Execute(context.Background(), execCtx(store, gen, outcome, responses)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gen.lastReq.SourceImage == nil || !bytes.Equal(gen.lastReq.SourceImage.Data, source) {
		t.Fatal("source image must carry the captured bytes")
	}
}

func TestAIImageExecutorStagingFailureIsNonFatal(t *testing.T) {
	store := newFakeStore()
	store.writeErr["scratch/job-1/generated.png"] = errors.New("scratch volume full")

	gen := &fakeGenerator{result: &genai.ImageResult{
		Data:   pngBytes(t, 4, 4, color.RGBA{R: 10, A: 255}),
		Format: "image/png",
	}}
	outcome := domain.Outcome{
		Type: domain.OutcomeTypeAIImage,
		AIImage: &domain.AIImageConfig{
			Task:       domain.AITaskTextToImage,
			Generation: domain.GenerationConfig{Prompt: "p"},
		},
	}

	var logs bytes.Buffer
	ec := execCtx(store, gen, outcome, nil)
	ec.Logger = zerolog.New(&logs)

	artifact, err := NewAIImageExecutor().Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if artifact == nil || artifact.StorageKey == "" {
		t.Fatalf("artifact = %+v, want uploaded outcome despite staging failure", artifact)
	}
	if !strings.Contains(logs.String(), "scratch staging write failed") {
		t.Fatalf("logs = %q, want the staging failure recorded", logs.String())
	}
}

func TestAIImageExecutorGeneratorFailure(t *testing.T) {
	outcome := domain.Outcome{
		Type: domain.OutcomeTypeAIImage,
		AIImage: &domain.AIImageConfig{
			Task:       domain.AITaskTextToImage,
			Generation: domain.GenerationConfig{Prompt: "p"},
		},
	}

	t.Run("provider error", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("quota exceeded")}
		_, err := NewAIImageExecutor().Execute(context.Background(), execCtx(newFakeStore(), gen, outcome, nil))
		wantKind(t, err, domain.ErrorKindAIModelError)
	})

	t.Run("context deadline passes through", func(t *testing.T) {
		gen := &fakeGenerator{err: context.DeadlineExceeded}
		_, err := NewAIImageExecutor().Execute(context.Background(), execCtx(newFakeStore(), gen, outcome, nil))
		wantKind(t, err, domain.ErrorKindTimeout)
	})

	t.Run("empty result", func(t *testing.T) {
		gen := &fakeGenerator{result: &genai.ImageResult{}}
		_, err := NewAIImageExecutor().Execute(context.Background(), execCtx(newFakeStore(), gen, outcome, nil))
		wantKind(t, err, domain.ErrorKindAIModelError)
	})
}

func TestAIImageExecutorDanglingMention(t *testing.T) {
	outcome := domain.Outcome{
		Type: domain.OutcomeTypeAIImage,
		AIImage: &domain.AIImageConfig{
			Task:       domain.AITaskTextToImage,
			Generation: domain.GenerationConfig{Prompt: "with @{media:Ghost}"},
		},
	}
	gen := &fakeGenerator{result: &genai.ImageResult{Data: []byte("x")}}

	_, err := NewAIImageExecutor().Execute(context.Background(), execCtx(newFakeStore(), gen, outcome, nil))
	wantKind(t, err, domain.ErrorKindInvalidInput)
	if gen.lastReq != nil {
		t.Fatal("generator must not be called when the prompt cannot resolve")
	}
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(NewPhotoExecutor(), NewAIImageExecutor())

	tests := []struct {
		name string
		typ  domain.OutcomeType
	}{
		{"empty type", ""},
		{"unknown type", "hologram"},
		{"declared but unimplemented", domain.OutcomeTypeVideo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := ExecContext{Snapshot: domain.JobSnapshot{OutcomeConfig: domain.Outcome{Type: tt.typ}}}
			_, err := reg.Dispatch(context.Background(), ec)
			wantKind(t, err, domain.ErrorKindInvalidInput)
		})
	}
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry(nil, nil)
	reg.Register(domain.OutcomeTypeGIF, NewPhotoExecutor())

	store := newFakeStore()
	store.files["captures/a.png"] = pngBytes(t, 2, 2, color.RGBA{A: 255})
	ec := execCtx(store, nil, domain.Outcome{
		Type:  domain.OutcomeTypeGIF,
		Photo: &domain.PhotoConfig{CaptureStepID: "cap-1"},
	}, map[string]domain.StepResponse{
		"cap-1": {StepID: "cap-1", Kind: domain.ResponseKindCapture, AssetPath: "captures/a.png"},
	})
	if _, err := reg.Dispatch(context.Background(), ec); err != nil {
		t.Fatalf("Dispatch after Register: %v", err)
	}
}
