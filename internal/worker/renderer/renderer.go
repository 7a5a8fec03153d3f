// Package renderer defines the render collaborator consumed by the
// worker. Rendering itself (layout, synthesis, encoding) is another
// service's concern; the worker only needs blocking unit and assembly
// calls.
package renderer

import (
	"context"
	"encoding/json"
)

// Artifact is one rendered output blob.
type Artifact struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Renderer produces unit artifacts and assembles them into the final
// output. Both calls block and honor ctx cancellation.
type Renderer interface {
	RenderUnit(ctx context.Context, config json.RawMessage, unit int) (Artifact, error)
	AssembleFinal(ctx context.Context, config json.RawMessage, artifacts []Artifact) (Artifact, error)
}
