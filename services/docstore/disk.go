package docsvc

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var extRegex = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

var nowFunc = time.Now // mockable

func newRef(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if !extRegex.MatchString(ext) {
		ext = ""
	}
	return nowFunc().UTC().Format("2006/01/") + uuid.NewString() + ext
}

func validRef(ref string) bool {
	return core.IsDocumentRef(ref)
}

type diskStore struct {
	dir string
}

var _ core.DocumentStore = (*diskStore)(nil)

// NewDiskStore keeps documents under dir. Used in DEV & tests.
func NewDiskStore(dir string) (core.DocumentStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "creating documents dir")
	}
	return &diskStore{dir: dir}, nil
}

func (s *diskStore) Save(ctx context.Context, filename, _ string, r io.Reader) (string, error) {
	ref := newRef(filename)
	fp := filepath.Join(s.dir, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(fp), 0o750); err != nil {
		return "", errors.Wrap(err, "creating document dir")
	}

	f, err := os.OpenFile(fp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", errors.Wrap(err, "creating document")
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(fp)
		return "", errors.Wrap(err, "writing document")
	}
	if err = f.Close(); err != nil {
		return "", errors.Wrap(err, "closing document")
	}
	return ref, ctx.Err()
}

func (s *diskStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	if !validRef(ref) {
		return nil, core.ErrDocumentNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(ref)))
	if os.IsNotExist(err) {
		return nil, core.ErrDocumentNotFound
	}
	return f, errors.Wrap(err, "opening document")
}
