package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/descriptor"
)

// MaxSnapshotBytes bounds a decoded snapshot image.
const MaxSnapshotBytes = 5 << 20

// SnapshotPrefix is the object key prefix of uploaded snapshots.
const SnapshotPrefix = "attendance/"

const dataURLPrefix = "data:"

var snapshotExt = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// Snapshot is a decoded data URL image.
type Snapshot struct {
	Data        []byte
	ContentType string
	Ext         string
}

// ParseDataURL decodes a "data:image/<type>;base64,<payload>" string.
// ok is false, with a nil error, for anything that is not a data URL; such
// strings are treated as opaque references.
func ParseDataURL(s string) (snap *Snapshot, ok bool, err error) {
	if !IsInlineImage(s) {
		return nil, false, nil
	}

	meta, payload, found := strings.Cut(strings.TrimPrefix(s, dataURLPrefix), ",")
	if !found {
		return nil, true, descriptor.Invalid("image", "malformed data URL")
	}
	contentType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return nil, true, descriptor.Invalid("image", "data URL must be base64 encoded")
	}
	ext, known := snapshotExt[contentType]
	if !known {
		return nil, true, descriptor.Invalid("image", "unsupported image type %q", contentType)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxSnapshotBytes {
		return nil, true, descriptor.Invalid("image", "snapshot larger than %d bytes", MaxSnapshotBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, true, descriptor.Invalid("image", "invalid base64 payload")
	}
	return &Snapshot{Data: data, ContentType: contentType, Ext: ext}, true, nil
}

// ObjectStore is the part of storage.MinIOStore snapshots need.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

// SnapshotStore keeps decoded snapshots in an object store.
type SnapshotStore struct {
	objects ObjectStore
}

func NewSnapshotStore(objects ObjectStore) *SnapshotStore {
	return &SnapshotStore{objects: objects}
}

// Upload stores snap under attendance/<identity>/<uuid>.<ext> and returns the key.
func (s *SnapshotStore) Upload(ctx context.Context, identityID string, snap *Snapshot) (string, error) {
	key := fmt.Sprintf("%s%s/%s.%s", SnapshotPrefix, url.PathEscape(identityID), uuid.New(), snap.Ext)
	if err := s.objects.PutObject(ctx, key, snap.Data, snap.ContentType); err != nil {
		return "", err
	}
	return key, nil
}

func (s *SnapshotStore) Discard(ctx context.Context, key string) error {
	return s.objects.DeleteObject(ctx, key)
}

// IsInlineImage reports whether ref holds the image itself rather than a reference.
func IsInlineImage(ref string) bool {
	return strings.HasPrefix(ref, dataURLPrefix)
}

// ImagePath is the API path serving the snapshot of event id.
func ImagePath(id uuid.UUID) string {
	return "/v1/attendance/" + id.String() + "/image"
}
