package core

import (
	"context"
	"io"
	"regexp"
)

// ErrDocumentNotFound is also returned for refs a DocumentStore could not have issued.
var ErrDocumentNotFound = NewNotFoundError("document")

// refs look like 2024/03/<uuid><.ext>
var documentRefRegex = regexp.MustCompile(`^\d{4}/\d{2}/[0-9a-f-]{36}(\.[a-z0-9]{1,8})?$`)

// IsDocumentRef reports whether ref has the shape of a ref issued by a DocumentStore.
func IsDocumentRef(ref string) bool {
	return documentRefRegex.MatchString(ref)
}

// DocumentStore keeps justification documents. Refs are opaque to callers.
type DocumentStore interface {
	Save(ctx context.Context, filename, contentType string, r io.Reader) (ref string, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}
