// Package gcs implements ports.ObjectStore on a Google Cloud Storage
// bucket. Create-if-absent maps to IfGenerationMatch(0), which GCS
// rejects with 412 when the object already exists. That precondition
// is the atomic primitive the whole lease protocol rests on.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/api/googleapi"
	storage "google.golang.org/api/storage/v1"

	"renderfleet/internal/ports"
)

type Store struct {
	svc    *storage.Service
	bucket string
}

func New(svc *storage.Service, bucket string) *Store {
	return &Store{svc: svc, bucket: bucket}
}

func (g *Store) Provider() string { return "gcs" }

func (g *Store) CreateObject(ctx context.Context, key string, data []byte) error {
	obj := &storage.Object{Name: key}
	call := g.svc.Objects.Insert(g.bucket, obj).
		Media(bytes.NewReader(data)).
		IfGenerationMatch(0).
		Context(ctx)
	if _, err := call.Do(); err != nil {
		if statusCode(err) == http.StatusPreconditionFailed {
			return ports.ErrObjectExists
		}
		return fmt.Errorf("gcs create %s: %w", key, err)
	}
	return nil
}

func (g *Store) PutObject(ctx context.Context, key string, data []byte) error {
	obj := &storage.Object{Name: key}
	call := g.svc.Objects.Insert(g.bucket, obj).
		Media(bytes.NewReader(data)).
		Context(ctx)
	if _, err := call.Do(); err != nil {
		return fmt.Errorf("gcs put %s: %w", key, err)
	}
	return nil
}

func (g *Store) ReadObject(ctx context.Context, key string) ([]byte, error) {
	res, err := g.svc.Objects.Get(g.bucket, key).Context(ctx).Download()
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, ports.ErrObjectNotFound
		}
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	return data, nil
}

func (g *Store) DeleteObject(ctx context.Context, key string) error {
	err := g.svc.Objects.Delete(g.bucket, key).Context(ctx).Do()
	if err != nil && statusCode(err) != http.StatusNotFound {
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

func (g *Store) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	call := g.svc.Objects.List(g.bucket).Prefix(prefix)
	err := call.Pages(ctx, func(page *storage.Objects) error {
		for _, obj := range page.Items {
			keys = append(keys, obj.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gcs list %s: %w", prefix, err)
	}
	return keys, nil
}

func statusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
