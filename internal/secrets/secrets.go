package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/kubev2v/role-normalizer/internal/normalizer"
	"github.com/kubev2v/role-normalizer/pkg/objectstore"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

var ErrNoCredentials = errors.New("no normalization service credentials configured")

// Sources lists where credentials may come from. The first configured source wins:
// File, then Object, then the inline username and password.
type Sources struct {
	File     string
	Object   string
	Username string
	Password string
}

// Resolve loads the normalization service credentials.
func Resolve(ctx context.Context, src Sources, objects objectstore.Reader) (normalizer.Credentials, error) {
	logger := zap.S().Named("secrets")

	switch {
	case src.File != "":
		logger.Infow("loading credentials from file", "path", src.File)
		return load(ctx, objects, src.File)
	case src.Object != "":
		if !objectstore.IsRemote(src.Object) {
			return normalizer.Credentials{}, fmt.Errorf("credentials object %q is not an s3:// location", src.Object)
		}
		logger.Infow("loading credentials from object storage", "location", src.Object)
		return load(ctx, objects, src.Object)
	case src.Username != "" || src.Password != "":
		return normalizer.Credentials{Username: src.Username, Password: src.Password}, nil
	default:
		return normalizer.Credentials{}, ErrNoCredentials
	}
}

// Parse decodes a YAML or JSON secret with username and password keys.
func Parse(data []byte) (normalizer.Credentials, error) {
	var creds normalizer.Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return normalizer.Credentials{}, fmt.Errorf("failed to decode credentials: %w", err)
	}
	if creds.Username == "" || creds.Password == "" {
		return normalizer.Credentials{}, errors.New("credentials must define both username and password")
	}
	return creds, nil
}

func load(ctx context.Context, objects objectstore.Reader, path string) (normalizer.Credentials, error) {
	data, err := objectstore.ReadFile(ctx, objects, path)
	if err != nil {
		return normalizer.Credentials{}, err
	}
	return Parse(data)
}
