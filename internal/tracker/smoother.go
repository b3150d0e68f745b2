package tracker

import "github.com/e7canasta/orion-facemesh/internal/types"

// Smoother post-processes each observation before it is published.
// filter.OneEuro satisfies it.
type Smoother interface {
	Filter(obs types.Observation) types.Observation
}

// Passthrough is the identity Smoother used when smoothing is disabled
type Passthrough struct{}

// Filter returns obs unchanged
func (Passthrough) Filter(obs types.Observation) types.Observation {
	return obs
}
