// Package docsvc stores the documents attached to justifications, on disk or in S3.
package docsvc

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

// New returns the store selected by conf.Documents.Backend.
func New(ctx context.Context, conf *core.Config) (core.DocumentStore, error) {
	switch conf.Documents.Backend {
	case "", "disk":
		return NewDiskStore(conf.Documents.Dir)
	case "s3":
		if conf.Documents.S3Bucket == "" {
			return nil, errors.New("documents: s3 backend requires a bucket")
		}
		return NewS3Store(ctx, conf)
	default:
		return nil, errors.Errorf("documents: unknown backend %q", conf.Documents.Backend)
	}
}
