package processor

import (
	"context"
	"encoding/json"

	"renderfleet/internal/jobs"
	"renderfleet/internal/ports"
	"renderfleet/internal/worker/renderer"
)

// JobIO exposes one job's storage operations as named methods, bound
// to the job at construction. Everything durable a render produces
// goes through here.
type JobIO interface {
	ReadStatus(ctx context.Context) (jobs.Record, error)
	WriteStatus(ctx context.Context, rec jobs.Record) error
	ReadProgress(ctx context.Context) (jobs.Checkpoint, error)
	WriteProgress(ctx context.Context, cp jobs.Checkpoint) error
	UploadUnit(ctx context.Context, unit int, a renderer.Artifact) error
	ReadUnit(ctx context.Context, unit int) (renderer.Artifact, error)
	UploadFinal(ctx context.Context, a renderer.Artifact) error
	WriteManifest(ctx context.Context, m jobs.Manifest) error
}

type storeJobIO struct {
	store ports.ObjectStore
	paths jobs.Paths
}

// NewJobIO binds the store operations to one job.
func NewJobIO(store ports.ObjectStore, paths jobs.Paths) JobIO {
	return &storeJobIO{store: store, paths: paths}
}

func (io *storeJobIO) ReadStatus(ctx context.Context) (jobs.Record, error) {
	data, err := io.store.ReadObject(ctx, io.paths.Status())
	if err != nil {
		return jobs.Record{}, err
	}
	var rec jobs.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return jobs.Record{}, err
	}
	return rec, nil
}

func (io *storeJobIO) WriteStatus(ctx context.Context, rec jobs.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return io.store.PutObject(ctx, io.paths.Status(), body)
}

// ReadProgress returns a zero checkpoint when none exists yet.
func (io *storeJobIO) ReadProgress(ctx context.Context) (jobs.Checkpoint, error) {
	data, err := io.store.ReadObject(ctx, io.paths.Progress())
	if err != nil {
		if ports.IsNotFound(err) {
			return jobs.Checkpoint{}, nil
		}
		return jobs.Checkpoint{}, err
	}
	var cp jobs.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		// A corrupt checkpoint only costs re-rendering; start over.
		return jobs.Checkpoint{}, nil
	}
	return cp, nil
}

func (io *storeJobIO) WriteProgress(ctx context.Context, cp jobs.Checkpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return io.store.PutObject(ctx, io.paths.Progress(), body)
}

func (io *storeJobIO) UploadUnit(ctx context.Context, unit int, a renderer.Artifact) error {
	return io.store.PutObject(ctx, io.paths.Unit(unit), a.Data)
}

func (io *storeJobIO) ReadUnit(ctx context.Context, unit int) (renderer.Artifact, error) {
	data, err := io.store.ReadObject(ctx, io.paths.Unit(unit))
	if err != nil {
		return renderer.Artifact{}, err
	}
	return renderer.Artifact{
		Name:        io.paths.Unit(unit),
		ContentType: "video/mp4",
		Data:        data,
	}, nil
}

func (io *storeJobIO) UploadFinal(ctx context.Context, a renderer.Artifact) error {
	return io.store.PutObject(ctx, io.paths.Final(), a.Data)
}

func (io *storeJobIO) WriteManifest(ctx context.Context, m jobs.Manifest) error {
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return io.store.PutObject(ctx, io.paths.Manifest(), body)
}
