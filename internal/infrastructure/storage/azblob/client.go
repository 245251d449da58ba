// Package azblob reads model weights and slide images from Azure Blob Storage.
package azblob

import (
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/turtacn/MicroNet-Diagnostics/internal/config"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

var (
	ErrNotFound   = errors.New(errors.ErrCodeNotFound, "blob not found")
	ErrEmptyKey   = errors.New(errors.ErrCodeValidation, "blob key must not be empty")
	ErrInvalidKey = errors.New(errors.ErrCodeValidation, "blob key contains an invalid path segment")
)

// Client downloads blobs. The bucket argument of GetObject names the
// container; "" selects the configured one.
type Client struct {
	client    *azblob.Client
	container string
	logger    logging.Logger
}

// NewClient parses the connection string. No request is made until the
// first download.
func NewClient(cfg config.AzBlobConfig, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid azure storage connection string")
	}
	return &Client{client: client, container: cfg.Container, logger: log.Named("azblob")}, nil
}

// Container is the default container.
func (c *Client) Container() string { return c.container }

// GetObject streams container/key. The caller closes the reader.
func (c *Client) GetObject(ctx context.Context, container, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if container == "" {
		container = c.container
	}

	resp, err := c.client.DownloadStream(ctx, container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, ErrNotFound.WithDetail(container + "/" + key)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to download blob").WithDetail(container + "/" + key)
	}
	c.logger.Debug("blob opened", logging.String("container", container), logging.String("key", key))
	return resp.Body, nil
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if strings.Contains(key, "..") {
		return ErrInvalidKey.WithDetail(key)
	}
	return nil
}
