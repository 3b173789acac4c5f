// Package blobstore hands out presigned URLs for uploaded files. Clients
// upload and download directly against the object store; the server only
// signs requests and checks that an upload landed.
package blobstore

import (
	"context"
	"errors"
	"time"
)

var ErrBlobNotFound = errors.New("blob not found")

// Store is implemented by the S3 and in-memory backends.
type Store interface {
	PresignPut(ctx context.Context, key, contentType string) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
	// Stat returns the stored object size, or ErrBlobNotFound.
	Stat(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

const DefaultPresignTTL = 15 * time.Minute
