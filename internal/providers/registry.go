package providers

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jfima/amanu/internal/models"
)

// Factory lazily builds a concrete provider instance from its descriptor. The returned value
// must implement TranscriptionProvider, RefinementProvider, or both.
type Factory func(desc models.ProviderDescriptor) (any, error)

// Registry discovers providers from metadata files under a directory, filters them by
// declared capability, and instantiates them lazily on first use (spec.md §4.5).
type Registry struct {
	mu          sync.Mutex
	descriptors map[string]models.ProviderDescriptor
	factories   map[string]Factory
	instances   map[string]any
}

// NewRegistry walks dir for provider subdirectories carrying a defaults.yaml and parses each
// one concurrently via errgroup, mirroring the bounded-fan-out shape used elsewhere in the
// pack for directory scans.
func NewRegistry(dir string) (*Registry, error) {
	subdirs, err := listProviderDirs(dir)
	if err != nil {
		return nil, err
	}

	descs := make([]models.ProviderDescriptor, len(subdirs))
	g := new(errgroup.Group)
	for i, d := range subdirs {
		i, d := i, d
		g.Go(func() error {
			desc, err := loadDescriptor(d)
			if err != nil {
				return err
			}
			descs[i] = desc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Registry{
		descriptors: make(map[string]models.ProviderDescriptor, len(descs)),
		factories:   make(map[string]Factory),
		instances:   make(map[string]any),
	}
	for _, d := range descs {
		r.descriptors[d.Name] = d
	}
	return r, nil
}

// RegisterFactory binds a provider name (matching its defaults.yaml "name" field) to the code
// that builds it. Callers wire each reference provider's constructor (e.g. openaicloud.New)
// at startup; nothing here self-registers via init(), so an unused provider package costs
// nothing to import.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Descriptor returns the named provider's metadata.
func (r *Registry) Descriptor(name string) (models.ProviderDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// ListCapable returns every discovered provider's descriptor that declares capability c.
func (r *Registry) ListCapable(c models.Capability) []models.ProviderDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProviderDescriptor
	for _, d := range r.descriptors {
		if d.HasCapability(c) {
			out = append(out, d)
		}
	}
	return out
}

// instance lazily builds and caches the provider named name.
func (r *Registry) instance(name string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[name]; ok {
		return inst, nil
	}
	desc, ok := r.descriptors[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: no defaults.yaml discovered", name)
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: no factory registered for it", name)
	}
	inst, err := factory(desc)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}
	r.instances[name] = inst
	return inst, nil
}

// Transcriber returns the named provider's TranscriptionProvider, erroring if it doesn't
// declare the capability or implement the interface.
func (r *Registry) Transcriber(name string) (TranscriptionProvider, error) {
	desc, ok := r.Descriptor(name)
	if !ok {
		return nil, fmt.Errorf("provider %q: not discovered", name)
	}
	if !desc.HasCapability(models.CapabilityTranscription) {
		return nil, fmt.Errorf("provider %q: does not declare transcription capability", name)
	}
	inst, err := r.instance(name)
	if err != nil {
		return nil, err
	}
	tp, ok := inst.(TranscriptionProvider)
	if !ok {
		return nil, fmt.Errorf("provider %q: instance does not implement TranscriptionProvider", name)
	}
	return tp, nil
}

// Refiner returns the named provider's RefinementProvider, erroring if it doesn't declare the
// capability or implement the interface.
func (r *Registry) Refiner(name string) (RefinementProvider, error) {
	desc, ok := r.Descriptor(name)
	if !ok {
		return nil, fmt.Errorf("provider %q: not discovered", name)
	}
	if !desc.HasCapability(models.CapabilityRefinement) {
		return nil, fmt.Errorf("provider %q: does not declare refinement capability", name)
	}
	inst, err := r.instance(name)
	if err != nil {
		return nil, err
	}
	rp, ok := inst.(RefinementProvider)
	if !ok {
		return nil, fmt.Errorf("provider %q: instance does not implement RefinementProvider", name)
	}
	return rp, nil
}

// EstimateCost looks up the model's per-million token prices in the provider's cost table and
// returns an estimate; the true UsageRecord is always whatever the provider itself returned,
// this is only used as a pre-flight estimate or a fallback when a provider cannot report cost.
func (r *Registry) EstimateCost(providerName, model string, inputTokens, outputTokens int) float64 {
	desc, ok := r.Descriptor(providerName)
	if !ok {
		return 0
	}
	for _, e := range desc.CostTable {
		if e.Model == model {
			return float64(inputTokens)/1e6*e.InputPerMillion + float64(outputTokens)/1e6*e.OutputPerMillion
		}
	}
	return 0
}
