package firebase

import (
	"context"
	"fmt"
	"io"
	"net/url"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/remote"
)

const tokenKey = "firebaseStorageDownloadTokens"

// Blobs is remote.Blobs over the default Firebase Storage bucket.
type Blobs struct {
	bucket *gcs.BucketHandle
	name   string
}

func NewBlobs(bucket *gcs.BucketHandle, name string) *Blobs {
	return &Blobs{bucket: bucket, name: name}
}

// Upload writes the object with a download token so it gets the same URL
// shape the web SDK produces.
func (b *Blobs) Upload(ctx context.Context, path string, r io.Reader, contentType string) (remote.BlobRef, error) {
	w := b.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{tokenKey: uuid.NewString()}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return remote.BlobRef{}, errs.Classify(err, "upload "+path)
	}
	if err := w.Close(); err != nil {
		return remote.BlobRef{}, errs.Classify(err, "upload "+path)
	}
	return remote.BlobRef{Bucket: b.name, Path: path}, nil
}

func (b *Blobs) PublicURL(ctx context.Context, ref remote.BlobRef) (string, error) {
	attrs, err := b.bucket.Object(ref.Path).Attrs(ctx)
	if err != nil {
		if err == gcs.ErrObjectNotExist {
			return "", errs.NotFound("blob %s", ref.Path)
		}
		return "", errs.Classify(err, "attrs "+ref.Path)
	}
	u := fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media",
		attrs.Bucket, url.PathEscape(ref.Path))
	if tok := attrs.Metadata[tokenKey]; tok != "" {
		u += "&token=" + url.QueryEscape(tok)
	}
	return u, nil
}
