package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/bimg"

	"github.com/civic-os/dispatchq/internal/executor"
	"github.com/civic-os/dispatchq/wire"
)

// ThumbnailSize is one output size the Thumbnail handler generates,
// matching the teacher's ThumbnailSize (consolidated-worker-go/
// thumbnail_worker.go).
type ThumbnailSize struct {
	Name    string
	Width   int
	Height  int
	Quality int
}

// DefaultThumbnailSizes mirrors the teacher's three-tier preset.
var DefaultThumbnailSizes = []ThumbnailSize{
	{Name: "small", Width: 150, Height: 150, Quality: 80},
	{Name: "medium", Width: 400, Height: 400, Quality: 85},
	{Name: "large", Width: 800, Height: 800, Quality: 90},
}

// ThumbnailArgs is the expected shape of payload.Arguments[0].
type ThumbnailArgs struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	IsPDF    bool   `json:"is_pdf"`
}

// Thumbnail downloads the original object, generates one JPEG thumbnail
// per configured size (converting a PDF's first page to an image first
// when IsPDF is set), uploads each result alongside the original, and
// returns the generated keys via executor.SuccessValue. Adapted from the
// teacher's ThumbnailWorker.Work/generateImageThumbnails/
// generatePDFThumbnails (consolidated-worker-go/thumbnail_worker.go), with
// the civic-os metadata.files status bookkeeping removed.
func Thumbnail(s3c S3, sizes []ThumbnailSize) executor.Handler {
	if len(sizes) == 0 {
		sizes = DefaultThumbnailSizes
	}
	return func(ctx context.Context, p wire.Payload) (executor.Outcome, error) {
		args, err := decodeArg[ThumbnailArgs](p)
		if err != nil {
			return executor.Outcome{}, err
		}

		data, err := downloadFromS3(ctx, s3c, args.Bucket, args.Key)
		if err != nil {
			return executor.Err(fmt.Sprintf("download original: %v", err)), nil
		}

		if args.IsPDF {
			data, err = firstPageToImage(data)
			if err != nil {
				return executor.Err(fmt.Sprintf("convert pdf to image: %v", err)), nil
			}
		}

		keys, err := generateThumbnails(ctx, s3c, data, args.Key, args.Bucket, sizes)
		if err != nil {
			return executor.Err(fmt.Sprintf("generate thumbnails: %v", err)), nil
		}

		return executor.SuccessValue(keys), nil
	}
}

func generateThumbnails(ctx context.Context, s3c S3, imageData []byte, originalKey, bucket string, sizes []ThumbnailSize) (map[string]string, error) {
	out := make(map[string]string, len(sizes))
	basePath := filepath.Dir(originalKey)

	for _, size := range sizes {
		thumb, err := bimg.NewImage(imageData).Process(bimg.Options{
			Width:      size.Width,
			Height:     size.Height,
			Embed:      true,
			Gravity:    bimg.GravityCentre,
			Background: bimg.Color{R: 255, G: 255, B: 255},
			Type:       bimg.JPEG,
			Quality:    size.Quality,
		})
		if err != nil {
			return nil, fmt.Errorf("generate %s thumbnail: %w", size.Name, err)
		}

		key := fmt.Sprintf("%s/thumb-%s.jpg", basePath, size.Name)
		if err := uploadToS3(ctx, s3c, bucket, key, thumb); err != nil {
			return nil, fmt.Errorf("upload %s thumbnail: %w", size.Name, err)
		}
		out[size.Name] = key
	}
	return out, nil
}

// firstPageToImage shells out to pdftoppm to rasterize a PDF's first page,
// exactly as the teacher's generatePDFThumbnails does.
func firstPageToImage(pdfData []byte) ([]byte, error) {
	tmp, err := os.CreateTemp("", "dispatchq-thumb-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp pdf: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(pdfData); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}
	tmp.Close()

	outImage := tmp.Name() + ".ppm"
	defer os.Remove(outImage)

	cmd := exec.Command("pdftoppm", "-f", "1", "-l", "1", "-singlefile", "-r", "300", tmp.Name(), tmp.Name())
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run pdftoppm: %w", err)
	}

	return os.ReadFile(outImage)
}

func downloadFromS3(ctx context.Context, s3c S3, bucket, key string) ([]byte, error) {
	result, err := s3c.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer result.Body.Close()
	return io.ReadAll(result.Body)
}

func uploadToS3(ctx context.Context, s3c S3, bucket, key string, data []byte) error {
	_, err := s3c.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/jpeg"),
	})
	return err
}
