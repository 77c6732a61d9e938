package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Upload stores body under bucket/objectPath and returns the object key.
func (c *Client) Upload(ctx context.Context, bucket, objectPath, contentType string, body io.Reader, upsert bool) (string, error) {
	objectPath = strings.Trim(objectPath, "/")
	if bucket == "" || objectPath == "" {
		return "", fmt.Errorf("bucket and object path are required")
	}

	token, err := c.bearer(ctx)
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint(storagePath, "object", bucket, objectPath), token, body)
	if err != nil {
		return "", err
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", strconv.FormatBool(upsert))

	if _, _, err := c.send(req); err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, objectPath, err)
	}

	return bucket + "/" + objectPath, nil
}

// Download returns the object content.
func (c *Client) Download(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(storagePath, "object", bucket, strings.Trim(objectPath, "/")), token, nil)
	if err != nil {
		return nil, err
	}

	data, _, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, objectPath, err)
	}
	return data, nil
}

// PublicURL builds the unauthenticated URL of an object in a public bucket.
func (c *Client) PublicURL(bucket, objectPath string) string {
	return c.endpoint(storagePath, "object", "public", bucket, strings.Trim(objectPath, "/"))
}
