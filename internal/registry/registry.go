// Package registry holds the compiled plan catalog: which step plan runs
// for each event type, and which steps can be regenerated with an
// alternative outcome. A default catalog ships embedded; callers may load
// their own CUE document instead.
package registry

import (
	_ "embed"
	"fmt"
	"sort"

	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/kairon/internal/compiler"
	"github.com/roach88/kairon/internal/ir"
)

//go:embed catalog.cue
var defaultCatalog string

// Registry maps event types to step plans and step names to
// regeneration descriptors. Immutable after construction.
type Registry struct {
	plans map[string]ir.StepPlan
	regen map[string]ir.RegenDescriptor
}

// New builds a registry from compiled plans and regen descriptors.
// Every descriptor must name a step that appears in some plan.
func New(plans []ir.StepPlan, descs []ir.RegenDescriptor) (*Registry, error) {
	r := &Registry{
		plans: make(map[string]ir.StepPlan, len(plans)),
		regen: make(map[string]ir.RegenDescriptor, len(descs)),
	}

	steps := map[string]bool{}
	for _, p := range plans {
		if errs := compiler.Validate(p); len(errs) > 0 {
			return nil, fmt.Errorf("plan %q: %w", p.Name, errs[0])
		}
		if prev, ok := r.plans[p.EventType]; ok {
			return nil, fmt.Errorf("plans %q and %q both claim event type %q",
				prev.Name, p.Name, p.EventType)
		}
		r.plans[p.EventType] = p
		for _, s := range p.Steps {
			steps[s.Name] = true
		}
	}

	for _, d := range descs {
		if errs := compiler.Validate(d); len(errs) > 0 {
			return nil, fmt.Errorf("regen %q: %w", d.StepName, errs[0])
		}
		if !steps[d.StepName] {
			return nil, fmt.Errorf("regen %q: no plan defines that step", d.StepName)
		}
		r.regen[d.StepName] = d
	}

	return r, nil
}

// Load compiles a CUE catalog document into a registry.
func Load(src string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog: %w", err)
	}

	plans, err := compiler.CompilePlans(v)
	if err != nil {
		return nil, err
	}
	descs, err := compiler.CompileRegenCatalog(v)
	if err != nil {
		return nil, err
	}
	return New(plans, descs)
}

// Default returns the embedded catalog. Panics on a corrupt embed, which
// is a build defect rather than a runtime condition.
func Default() *Registry {
	r, err := Load(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded catalog: %v", err))
	}
	return r
}

// PlanFor returns the step plan registered for an event type.
func (r *Registry) PlanFor(eventType string) (ir.StepPlan, error) {
	p, ok := r.plans[eventType]
	if !ok {
		return ir.StepPlan{}, ir.NewValidationError(
			fmt.Sprintf("no plan registered for event type %q", eventType))
	}
	return p, nil
}

// Lookup returns the regeneration descriptor for a step, or a
// NOT_REGENERABLE error when the catalog has no entry for it.
func (r *Registry) Lookup(stepName string) (ir.RegenDescriptor, error) {
	d, ok := r.regen[stepName]
	if !ok {
		return ir.RegenDescriptor{}, ir.NewNotRegenerableError(stepName)
	}
	return d, nil
}

// EventTypes lists the event types with a registered plan, sorted.
func (r *Registry) EventTypes() []string {
	out := make([]string, 0, len(r.plans))
	for et := range r.plans {
		out = append(out, et)
	}
	sort.Strings(out)
	return out
}

// Regenerable lists every step with a regeneration entry, sorted by
// step name.
func (r *Registry) Regenerable() []ir.RegenDescriptor {
	out := make([]ir.RegenDescriptor, 0, len(r.regen))
	for _, d := range r.regen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepName < out[j].StepName })
	return out
}
