package executor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"outcome-engine/internal/domain"
)

// applyOverlay composites the configured overlay image over the produced
// artifact and re-encodes as PNG.
func applyOverlay(ctx context.Context, ec ExecContext, base []byte, overlay *domain.OverlayConfig) ([]byte, error) {
	overlayBytes, err := ec.Store.Read(ctx, overlay.AssetPath)
	if err != nil {
		return nil, domain.WrapErr(domain.ErrorKindStorageError, fmt.Errorf("read overlay asset: %w", err))
	}
	out, err := composite(base, overlayBytes)
	if err != nil {
		return nil, domain.WrapErr(domain.ErrorKindProcessingFailed, err)
	}
	return out, nil
}

// composite stretches the overlay to the base bounds and draws it over the
// base, respecting the overlay's alpha channel.
func composite(baseBytes, overlayBytes []byte) ([]byte, error) {
	baseImg, _, err := image.Decode(bytes.NewReader(baseBytes))
	if err != nil {
		return nil, fmt.Errorf("decode base image: %w", err)
	}
	overlayImg, _, err := image.Decode(bytes.NewReader(overlayBytes))
	if err != nil {
		return nil, fmt.Errorf("decode overlay image: %w", err)
	}

	bounds := baseImg.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, baseImg, bounds.Min, draw.Src)

	scaled := scaleNearest(overlayImg, bounds.Dx(), bounds.Dy())
	draw.Draw(canvas, bounds, scaled, image.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode composited image: %w", err)
	}
	return buf.Bytes(), nil
}

// scaleNearest resizes src to width x height with nearest-neighbor
// sampling. Overlays are flat graphics, so the cheap kernel is fine.
func scaleNearest(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	srcBounds := src.Bounds()
	for y := 0; y < height; y++ {
		sy := srcBounds.Min.Y + y*srcBounds.Dy()/height
		for x := 0; x < width; x++ {
			sx := srcBounds.Min.X + x*srcBounds.Dx()/width
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}
