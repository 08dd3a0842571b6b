// Package handlers provides sample external-system job handlers
// (SPEC_FULL.md §4.9a): thin adapters between executor.Handler's signature
// and domain-specific SDKs, so a dispatchq consumer can register real work
// against the Executor without depending on this package at all. Grounded
// on the teacher's S3PresignWorker and ThumbnailWorker (consolidated-
// worker-go/s3_presign_worker.go, thumbnail_worker.go), stripped of their
// civic-os-specific database bookkeeping and re-expressed purely in terms
// of the job's wire.Payload arguments and an Outcome.
package handlers

import (
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/civic-os/dispatchq/wire"
)

// S3 wraps the two S3 clients the sample handlers need: a plain client for
// get/put and a presign client for generating presigned URLs, exactly the
// pair the teacher's S3PresignWorker and ThumbnailWorker each hold.
type S3 struct {
	Client  *s3.Client
	Presign *s3.PresignClient
}

// NewS3 builds an S3 wrapper around an already-configured *s3.Client.
func NewS3(client *s3.Client) S3 {
	return S3{
		Client:  client,
		Presign: s3.NewPresignClient(client),
	}
}

// decodeArg binds payload.Arguments[0] to T; see wire.DecodeArgument.
func decodeArg[T any](p wire.Payload) (T, error) {
	return wire.DecodeArgument[T](p)
}
