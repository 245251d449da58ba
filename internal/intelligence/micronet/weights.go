package micronet

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// WeightStore resolves a weight artifact name such as
// "resnet50_micronet.onnx" to a readable local file.
type WeightStore interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// ObjectGetter reads one object from a bucket or container. The MinIO and
// Azure Blob adapters implement it.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// LocalWeightStore serves artifacts from a directory.
type LocalWeightStore struct {
	Dir string
}

func (s LocalWeightStore) Fetch(_ context.Context, name string) (string, error) {
	p := filepath.Join(s.Dir, filepath.Base(name))
	info, err := os.Stat(p)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeWeightFetch, "weights not available").WithDetail(name)
	}
	if info.IsDir() {
		return "", errors.New(errors.ErrCodeWeightFetch, "weights path is a directory").WithDetail(p)
	}
	return p, nil
}

// ObjectWeightStore downloads artifacts from an object store into a local
// cache directory. Each artifact is downloaded at most once per process.
type ObjectWeightStore struct {
	getter   ObjectGetter
	bucket   string
	prefix   string
	cacheDir string
	logger   logging.Logger
	group    singleflight.Group
}

// NewObjectWeightStore creates the cache directory if needed.
func NewObjectWeightStore(getter ObjectGetter, bucket, prefix, cacheDir string, logger logging.Logger) (*ObjectWeightStore, error) {
	if getter == nil {
		return nil, fmt.Errorf("object weight store: getter is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("object weight store: bucket is required")
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "micronet-weights")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("object weight store: create cache dir: %w", err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ObjectWeightStore{getter: getter, bucket: bucket, prefix: prefix, cacheDir: cacheDir, logger: logger}, nil
}

func (s *ObjectWeightStore) Fetch(ctx context.Context, name string) (string, error) {
	name = filepath.Base(name)
	local := filepath.Join(s.cacheDir, name)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	_, err, _ := s.group.Do(name, func() (interface{}, error) {
		return nil, s.download(ctx, name, local)
	})
	if err != nil {
		return "", err
	}
	return local, nil
}

func (s *ObjectWeightStore) download(ctx context.Context, name, local string) error {
	key := path.Join(s.prefix, name)
	rc, err := s.getter.GetObject(ctx, s.bucket, key)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeWeightFetch, "weights not available").WithDetail(s.bucket + "/" + key)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(s.cacheDir, name+".*.part")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeWeightFetch, "create weights file")
	}
	n, err := io.Copy(tmp, rc)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrCodeWeightFetch, "download weights").WithDetail(s.bucket + "/" + key)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrCodeWeightFetch, "install weights file")
	}

	s.logger.Info("weights downloaded",
		logging.String("object", s.bucket+"/"+key),
		logging.Int64("bytes", n))
	return nil
}
