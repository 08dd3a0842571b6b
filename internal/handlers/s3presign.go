package handlers

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/civic-os/dispatchq/internal/executor"
	"github.com/civic-os/dispatchq/wire"
)

// PresignExpiry is how long a generated upload URL remains valid, matching
// the teacher's S3PresignWorker.
const PresignExpiry = 15 * time.Minute

// S3PresignArgs is the expected shape of payload.Arguments[0] for the
// S3Presign handler (spec §6: job arguments are an opaque array; this
// handler's contract is its own, documented here).
type S3PresignArgs struct {
	Bucket   string `json:"bucket"`
	FileName string `json:"file_name"`
}

// S3PresignResult is returned via executor.SuccessValue.
type S3PresignResult struct {
	FileID string `json:"file_id"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

// S3Presign generates a presigned upload URL for a new object, adapted
// from the teacher's S3PresignWorker.Work/generateUploadURL (consolidated-
// worker-go/s3_presign_worker.go) with the civic-os file_upload_requests
// bookkeeping removed — a dispatchq consumer owns its own persistence and
// reads the result out of the job's SuccessValue instead.
func S3Presign(s3c S3) executor.Handler {
	return func(ctx context.Context, p wire.Payload) (executor.Outcome, error) {
		args, err := decodeArg[S3PresignArgs](p)
		if err != nil {
			return executor.Outcome{}, err
		}

		fileID := uuid.New().String()
		ext := filepath.Ext(args.FileName)
		if ext == "" {
			ext = ".bin"
		}
		key := fmt.Sprintf("%s/original%s", fileID, ext)

		result, err := s3c.Presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(args.Bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(PresignExpiry))
		if err != nil {
			return executor.Err(fmt.Sprintf("presign put object: %v", err)), nil
		}

		return executor.SuccessValue(S3PresignResult{
			FileID: fileID,
			Key:    key,
			URL:    result.URL,
		}), nil
	}
}
