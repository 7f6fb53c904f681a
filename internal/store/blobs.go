package store

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/remote"
)

// LocalBlobs stores uploads under a directory served by the gateway.
type LocalBlobs struct {
	dir     string
	baseURL string
}

// NewLocalBlobs serves files from dir under baseURL + "/uploads/".
func NewLocalBlobs(dir, baseURL string) *LocalBlobs {
	return &LocalBlobs{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

var imageExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

var allowedExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// SafeName keeps letters, digits and -_. in a file base name.
func SafeName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "img"
	}
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || r == '.' ||
			(r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			return r
		}
		return '-'
	}, base)
}

// Upload sniffs the content type, accepts images only and writes the
// file at dir/<path dir>/<safe name><ext>.
func (b *LocalBlobs) Upload(ctx context.Context, p string, r io.Reader, contentType string) (remote.BlobRef, error) {
	if err := ctx.Err(); err != nil {
		return remote.BlobRef{}, err
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return remote.BlobRef{}, errors.Wrap(err, "read upload")
	}
	head = head[:n]
	if n == 0 {
		return remote.BlobRef{}, errs.Validation("empty upload %s", p)
	}
	mtype := http.DetectContentType(head)

	ext, ok := imageExt[mtype]
	if !ok {
		if e := strings.ToLower(filepath.Ext(p)); allowedExt[e] {
			ext = e
		} else if e, ok := imageExt[contentType]; ok {
			ext = e
		} else {
			return remote.BlobRef{}, errs.Validation("unsupported image type %s", mtype)
		}
	}

	rel := path.Join(path.Dir(p), SafeName(path.Base(p))+ext)
	dst := filepath.Join(b.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return remote.BlobRef{}, errors.Wrap(err, "create upload dir")
	}
	out, err := os.Create(dst)
	if err != nil {
		return remote.BlobRef{}, errors.Wrap(err, "create file")
	}
	defer out.Close()
	if _, err := out.Write(head); err != nil {
		return remote.BlobRef{}, errors.Wrap(err, "write head")
	}
	if _, err := io.Copy(out, r); err != nil {
		return remote.BlobRef{}, errors.Wrap(err, "write file")
	}
	return remote.BlobRef{Bucket: "local", Path: rel}, nil
}

func (b *LocalBlobs) PublicURL(_ context.Context, ref remote.BlobRef) (string, error) {
	return b.baseURL + "/uploads/" + ref.Path, nil
}

// Dir is the directory uploads are written to.
func (b *LocalBlobs) Dir() string { return b.dir }
