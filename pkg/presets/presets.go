// Package presets implements the PresetResolver of spec.md §4.4: resolving
// a transformation's effective parameter map from an optional preset plus
// the request's own overrides.
package presets

import (
	"context"

	"github.com/quillforge/quillforge/pkg/storage"
	"github.com/quillforge/quillforge/pkg/types"
)

// Resolver merges a request's parameters with an optional named preset.
type Resolver struct {
	presets storage.PresetRepository
}

// NewResolver builds a Resolver over the given preset repository.
func NewResolver(presets storage.PresetRepository) *Resolver {
	return &Resolver{presets: presets}
}

// Resolve yields the effective parameter map for a transformation request.
// If presetID is nil, effective = requestParameters. Otherwise the named
// preset is loaded (Get enforces accessibility: shared or owned by subject)
// and merged shallowly with requestParameters, which wins key-for-key;
// nested maps are replaced wholesale by the override, never deep-merged.
//
// Resolve does not touch preset.usage_count — that increment happens once
// per successful enqueue, not per resolve, and is the caller's
// responsibility (see pkg/service's create_transformation flow).
func (r *Resolver) Resolve(ctx context.Context, subject types.Subject, presetID *string, requestParameters types.Params) (types.Params, error) {
	if presetID == nil {
		return requestParameters, nil
	}

	preset, err := r.presets.Get(ctx, subject, *presetID)
	if err != nil {
		return nil, err
	}

	effective := make(types.Params, len(preset.Parameters)+len(requestParameters))
	for k, v := range preset.Parameters {
		effective[k] = v
	}
	for k, v := range requestParameters {
		effective[k] = v
	}
	return effective, nil
}
