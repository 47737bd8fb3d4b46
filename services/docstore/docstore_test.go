package docsvc

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
)

func TestDiskStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	ref, err := store.Save(ctx, "Certificat Médical.PDF", "application/pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.True(t, validRef(ref), ref)
	assert.True(t, strings.HasSuffix(ref, ".pdf"))

	rc, err := store.Open(ctx, ref)
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "%PDF-1.4", string(content))

	tests := []struct {
		name string
		ref  string
	}{
		{name: "empty", ref: ""},
		{name: "traversal", ref: "../../etc/passwd"},
		{name: "unknown", ref: "2024/03/00000000-0000-0000-0000-000000000000.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Open(ctx, tt.ref)
			assert.Equal(t, core.ErrDocumentNotFound, errors.Cause(err))
		})
	}
}

func TestNewRef(t *testing.T) {
	assert.False(t, strings.Contains(newRef("evil.php/../x"), ".."))
	assert.True(t, validRef(newRef("noext")))
	assert.True(t, validRef(newRef("scan.jpeg")))
	assert.True(t, validRef(newRef("weird.ext-with-dash")))
}

type s3Mock struct {
	objects map[string][]byte
}

func (m *s3Mock) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*in.Bucket+"/"+*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (m *s3Mock) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := m.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	mock := &s3Mock{objects: make(map[string][]byte)}
	store := NewS3StoreWithClient(mock, "academia", "justifications/")

	ref, err := store.Save(ctx, "note.png", "image/png", strings.NewReader("png"))
	require.NoError(t, err)
	assert.Contains(t, mock.objects, "academia/justifications/"+ref)

	rc, err := store.Open(ctx, ref)
	require.NoError(t, err)
	content, _ := io.ReadAll(rc)
	assert.Equal(t, "png", string(content))

	_, err = store.Open(ctx, "2024/03/00000000-0000-0000-0000-000000000000")
	assert.Equal(t, core.ErrDocumentNotFound, errors.Cause(err))
}
