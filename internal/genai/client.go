package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"outcome-engine/internal/infra"
)

// Options controls how the generation client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client fronts the external image-generation API. With no API key it
// produces deterministic synthetic images instead of calling out, which
// keeps workers and tests fully operational in local and CI environments
// while preserving the real invocation path.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// InputImage is an image attached to a generation call: either the base
// image for image-to-image tasks or a style/content reference.
type InputImage struct {
	Name     string
	MIMEType string
	Data     []byte
}

// GenerateRequest is the single entry point contract: prompt plus optional
// source and reference images, one result image back.
type GenerateRequest struct {
	Prompt          string
	Model           string
	AspectRatio     string
	SourceImage     *InputImage
	ReferenceImages []InputImage
	RequestID       string
}

// ImageResult is the normalized generated image.
type ImageResult struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts,omitempty"`
}

type apiPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *apiInlineData `json:"inlineData,omitempty"`
}

type apiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type apiGenerateRequest struct {
	Contents         []apiContent         `json:"contents"`
	GenerationConfig *apiGenerationConfig `json:"generationConfig,omitempty"`
}

type apiGenerationConfig struct {
	CandidateCount   int    `json:"candidateCount,omitempty"`
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type apiCandidate struct {
	Content      apiContent `json:"content"`
	FinishReason string     `json:"finishReason,omitempty"`
}

type apiGenerateResponse struct {
	Candidates []apiCandidate `json:"candidates"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a generation client with sane defaults. Callers may
// provide a nil HTTP client; a reusable one with a timeout is created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash-image"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Model returns the default model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate produces exactly one image for the request. It is invoked at
// most once per job attempt; callers never retry a failed generation, so a
// returned error is final for that job.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*ImageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.apiKey == "" {
		return c.syntheticImage(req), nil
	}
	return c.remoteGenerate(ctx, req)
}

func (c *Client) remoteGenerate(ctx context.Context, req GenerateRequest) (*ImageResult, error) {
	parts := []apiPart{{Text: buildPromptText(req)}}
	if req.SourceImage != nil {
		parts = append(parts, inlinePart(*req.SourceImage))
	}
	for _, ref := range req.ReferenceImages {
		parts = append(parts, inlinePart(ref))
	}

	payload := apiGenerateRequest{
		Contents:         []apiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &apiGenerationConfig{CandidateCount: 1},
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	var response apiGenerateResponse
	if err := c.invoke(ctx, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model)), payload, &response); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			format := part.InlineData.MimeType
			if format == "" {
				format = "image/png"
			}
			w, h := decodeImageDimensions(data)
			if w == 0 || h == 0 {
				w, h = normalizeAspect(req.AspectRatio)
			}
			c.logger.Debug().
				Str("request_id", req.RequestID).
				Str("model", model).
				Msg("genai: generated remote image")
			return &ImageResult{Data: data, Format: format, Width: w, Height: h}, nil
		}
	}
	return nil, fmt.Errorf("no image content returned")
}

func (c *Client) syntheticImage(req GenerateRequest) *ImageResult {
	width, height := normalizeAspect(req.AspectRatio)
	seed := deterministicSeed(req.RequestID, req.Prompt, req.Model, req.AspectRatio)
	data := renderSyntheticImage(width, height, seed)

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Msg("genai: generated synthetic image")

	return &ImageResult{Data: data, Format: "image/png", Width: width, Height: height}
}

func inlinePart(img InputImage) apiPart {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return apiPart{InlineData: &apiInlineData{
		MimeType: mime,
		Data:     base64.StdEncoding.EncodeToString(img.Data),
	}}
}

func buildPromptText(req GenerateRequest) string {
	var b strings.Builder
	prompt := strings.TrimSpace(req.Prompt)
	if prompt != "" {
		b.WriteString(prompt)
	}
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Aspect ratio: ")
		b.WriteString(aspect)
	}
	for _, ref := range req.ReferenceImages {
		if name := strings.TrimSpace(ref.Name); name != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("Reference image: ")
			b.WriteString(name)
		}
	}
	if b.Len() == 0 {
		b.WriteString("Create an image")
	}
	return b.String()
}

func (c *Client) invoke(ctx context.Context, path string, payload any, out any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke generation api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("generation api status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return fmt.Errorf("generation api status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("generation api status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode generation response: %w", err)
	}
	return nil
}

func decodeImageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func renderSyntheticImage(width, height int, seed string) []byte {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 1024
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripeHeight := maxInt(32, height/12)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := image.Rect(0, y, width, minInt(height, y+stripeHeight))
		draw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if seed == "" {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	r := mustParseHexByte(segment[0:2])
	g := mustParseHexByte(segment[2:4])
	b := mustParseHexByte(segment[4:6])
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func mustParseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func normalizeAspect(aspect string) (int, int) {
	switch strings.TrimSpace(strings.ToLower(aspect)) {
	case "16:9":
		return 1920, 1080
	case "9:16":
		return 1080, 1920
	case "4:3":
		return 1365, 1024
	case "3:4":
		return 1024, 1365
	case "1:1", "square", "":
		return 1024, 1024
	default:
		parts := strings.Split(aspect, ":")
		if len(parts) == 2 {
			if a, errA := strconv.Atoi(strings.TrimSpace(parts[0])); errA == nil {
				if b, errB := strconv.Atoi(strings.TrimSpace(parts[1])); errB == nil && a > 0 && b > 0 {
					width := 1024
					height := int(float64(width) * float64(b) / float64(a))
					return width, height
				}
			}
		}
		return 1024, 1024
	}
}
