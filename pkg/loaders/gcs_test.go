package loaders_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-querycache/pkg/loaders"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- GCS test doubles ---

type fakeGCSClient struct {
	objects map[string][]byte
	openErr error
	bucket  string
}

func (c *fakeGCSClient) Bucket(name string) loaders.GCSBucketHandle {
	c.bucket = name
	return &fakeGCSBucket{client: c}
}

type fakeGCSBucket struct {
	client *fakeGCSClient
}

func (b *fakeGCSBucket) Object(name string) loaders.GCSObjectHandle {
	return &fakeGCSObject{client: b.client, name: name}
}

type fakeGCSObject struct {
	client *fakeGCSClient
	name   string
}

func (o *fakeGCSObject) NewReader(_ context.Context) (io.ReadCloser, error) {
	if o.client.openErr != nil {
		return nil, o.client.openErr
	}
	data, ok := o.client.objects[o.name]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestGCSSource_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("Reads object under prefix", func(t *testing.T) {
		// Arrange
		client := &fakeGCSClient{objects: map[string][]byte{"reports/2024-01.json": []byte(`{"ok":true}`)}}
		src, err := loaders.NewGCSSource(&loaders.GCSConfig{BucketName: "archive", ObjectPrefix: "reports/"}, client, zerolog.Nop())
		require.NoError(t, err)

		// Act
		data, err := src.Load(ctx, "2024-01.json")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"ok":true}`), data)
		assert.Equal(t, "archive", client.bucket)
	})

	t.Run("Missing object is ErrNotFound", func(t *testing.T) {
		// Arrange
		src, err := loaders.NewGCSSource(&loaders.GCSConfig{BucketName: "archive"}, &fakeGCSClient{}, zerolog.Nop())
		require.NoError(t, err)

		// Act
		_, err = src.Load(ctx, "nothing")

		// Assert
		assert.ErrorIs(t, err, loaders.ErrNotFound)
	})

	t.Run("Open failure is wrapped", func(t *testing.T) {
		// Arrange
		openErr := errors.New("permission denied")
		src, err := loaders.NewGCSSource(&loaders.GCSConfig{BucketName: "archive"}, &fakeGCSClient{openErr: openErr}, zerolog.Nop())
		require.NoError(t, err)

		// Act
		_, err = src.Load(ctx, "x")

		// Assert
		assert.ErrorIs(t, err, openErr)
	})

	t.Run("Invalid configuration", func(t *testing.T) {
		_, err := loaders.NewGCSSource(&loaders.GCSConfig{BucketName: "b"}, nil, zerolog.Nop())
		assert.Error(t, err)
		_, err = loaders.NewGCSSource(&loaders.GCSConfig{}, &fakeGCSClient{}, zerolog.Nop())
		assert.Error(t, err)
	})
}
