// Package processor persists the artifacts of a completed transformation:
// the result image, its thumbnail, and the optional gallery and public
// copies controlled by the job's options bundle.
package processor

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"io"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/artmorph/photo-transformer/internal/model"
	"github.com/artmorph/photo-transformer/internal/provider/ai"
	"github.com/artmorph/photo-transformer/internal/storage/file"
)

const (
	thumbnailWidth  = 320
	thumbnailHeight = 320
)

// fileStorage defines the interface for storing result artifacts.
// It allows saving and copying files on a backend (e.g., S3, MinIO).
type fileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader, opts file.SaveOptions) (string, error)
	Copy(ctx context.Context, srcPath, dstPath string) (string, error)
}

// Processor finalizes provider output into stored result references.
type Processor struct {
	fileStorage   fileStorage
	watermarkText string
}

// New creates a Processor with the given storage backend. watermarkText is
// drawn on the public copy of a result.
func New(fs fileStorage, watermarkText string) *Processor {
	if watermarkText == "" {
		watermarkText = "artmorph"
	}
	return &Processor{fileStorage: fs, watermarkText: watermarkText}
}

// Finalize persists the transformed image and its derived artifacts and
// returns the result reference to record on the job.
func (p *Processor) Finalize(ctx context.Context, job model.Job, out *ai.TransformResult) (model.Result, error) {
	filename := job.ID.String() + extensionFor(out.ContentType)

	meta := map[string]string{}
	if job.Options.PreserveMetadata {
		meta["photo-id"] = job.PhotoID
		meta["user-id"] = job.UserID
		if job.Style.StyleID != "" {
			meta["style-id"] = job.Style.StyleID
		}
	}

	objectPath, err := p.fileStorage.Save(ctx, "results", filename, bytes.NewReader(out.Image), file.SaveOptions{
		ContentType: out.ContentType,
		Metadata:    meta,
	})
	if err != nil {
		return model.Result{}, fmt.Errorf("save result: %w", err)
	}

	thumbPath, err := p.thumbnail(ctx, filename, out.Image)
	if err != nil {
		return model.Result{}, fmt.Errorf("thumbnail: %w", err)
	}

	result := model.Result{
		ObjectPath:    objectPath,
		ThumbnailPath: thumbPath,
		ContentType:   out.ContentType,
		Analysis:      out.Analysis,
	}

	if job.Options.SaveToGallery {
		galleryPath := filepath.Join("gallery", job.UserID, filename)
		if _, err := p.fileStorage.Copy(ctx, objectPath, galleryPath); err != nil {
			return model.Result{}, fmt.Errorf("gallery copy: %w", err)
		}
		result.GalleryPath = galleryPath
	}

	if job.Options.Public {
		publicPath, err := p.watermark(ctx, filename, out.Image)
		if err != nil {
			return model.Result{}, fmt.Errorf("watermark: %w", err)
		}
		result.PublicPath = publicPath
	}

	return result, nil
}

// thumbnail generates a small preview of the result image.
func (p *Processor) thumbnail(ctx context.Context, filename string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := imaging.Thumbnail(img, thumbnailWidth, thumbnailHeight, imaging.Lanczos)

	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return p.fileStorage.Save(ctx, "thumbnails", filename, buf, file.SaveOptions{ContentType: "image/jpeg"})
}

// watermark draws the attribution text in the bottom-right corner and
// stores the copy served to anonymous viewers.
func (p *Processor) watermark(ctx context.Context, filename string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	dc := gg.NewContextForImage(img)
	dc.SetColor(color.White)

	margin := 10.0
	x := float64(dc.Width()) - margin
	y := float64(dc.Height()) - margin

	dc.DrawStringAnchored(p.watermarkText, x, y, 1, 1) // bottom-right corner
	dc.Fill()

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, dc.Image(), imaging.JPEG); err != nil {
		return "", fmt.Errorf("failed to encode watermarked image: %w", err)
	}

	return p.fileStorage.Save(ctx, "public", filename, buf, file.SaveOptions{ContentType: "image/jpeg"})
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
