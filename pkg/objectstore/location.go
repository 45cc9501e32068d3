package objectstore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const scheme = "s3://"

// Location addresses an object as s3://bucket/key.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return scheme + l.Bucket + "/" + l.Key
}

func IsRemote(path string) bool {
	return strings.HasPrefix(path, scheme)
}

func ParseLocation(s string) (Location, error) {
	if !IsRemote(s) {
		return Location{}, fmt.Errorf("%q is not an %s location", s, scheme)
	}
	bucket, key, found := strings.Cut(strings.TrimPrefix(s, scheme), "/")
	if !found || bucket == "" || strings.Trim(key, "/") == "" {
		return Location{}, fmt.Errorf("%q must be of the form %sbucket/key", s, scheme)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// Reader reads objects. *Client implements it.
type Reader interface {
	ReadAll(ctx context.Context, loc Location) ([]byte, error)
}

// ReadFile reads path from the local filesystem, or from objects when path
// is an s3:// location.
func ReadFile(ctx context.Context, objects Reader, path string) ([]byte, error) {
	if !IsRemote(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		return data, nil
	}

	loc, err := ParseLocation(path)
	if err != nil {
		return nil, err
	}
	if objects == nil {
		return nil, fmt.Errorf("cannot read %s: object storage is not configured", path)
	}
	return objects.ReadAll(ctx, loc)
}
