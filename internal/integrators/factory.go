package integrators

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Params carries numeric constructor parameters keyed by name.
type Params map[string]float64

// Constructor builds an integrator for output step dt.
type Constructor func(dt float64, params Params) (Integrator, error)

// Descriptor summarizes a registered integrator for introspection.
type Descriptor struct {
	ID       string
	Aliases  []string
	Order    int
	Adaptive bool
}

// UnknownIntegratorError is returned for ids that match no registered
// constructor or alias.
type UnknownIntegratorError struct {
	ID        string
	Available []string
}

func (e *UnknownIntegratorError) Error() string {
	return fmt.Sprintf("integrators: unknown integrator %q (available: %s)", e.ID, strings.Join(e.Available, ", "))
}

func (e *UnknownIntegratorError) Is(target error) bool {
	return target == ErrUnknownIntegrator
}

type entry struct {
	ctor    Constructor
	aliases []string
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	aliases map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		aliases: make(map[string]string),
	}
}

// Normalize lower-cases id and maps '-' and ' ' to '_'.
func Normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.NewReplacer("-", "_", " ", "_").Replace(id)
}

// Register adds or replaces the constructor for id. Aliases resolve to id.
func (r *Registry) Register(id string, ctor Constructor, aliases ...string) {
	key := Normalize(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	normalized := make([]string, 0, len(aliases))
	for _, a := range aliases {
		na := Normalize(a)
		r.aliases[na] = key
		normalized = append(normalized, na)
	}
	delete(r.aliases, key)
	r.entries[key] = &entry{ctor: ctor, aliases: normalized}
}

func (r *Registry) resolve(id string) (string, *entry, bool) {
	key := Normalize(id)
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	e, ok := r.entries[key]
	return key, e, ok
}

// Create resolves id and constructs an integrator for step dt.
func (r *Registry) Create(id string, dt float64, params Params) (Integrator, error) {
	r.mu.RLock()
	_, e, ok := r.resolve(id)
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownIntegratorError{ID: id, Available: r.Available()}
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("%w: dt must be positive, got %g", ErrInvalidParams, dt)
	}
	return e.ctor(dt, params)
}

// Available returns the canonical ids in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Describe reports the order and adaptivity of the integrator behind id.
func (r *Registry) Describe(id string) (Descriptor, error) {
	r.mu.RLock()
	key, e, ok := r.resolve(id)
	r.mu.RUnlock()

	if !ok {
		return Descriptor{}, &UnknownIntegratorError{ID: id, Available: r.Available()}
	}

	probe, err := e.ctor(0.01, nil)
	if err != nil {
		return Descriptor{}, fmt.Errorf("describe %s: %w", key, err)
	}
	aliases := append([]string(nil), e.aliases...)
	sort.Strings(aliases)
	return Descriptor{
		ID:       key,
		Aliases:  aliases,
		Order:    probe.Order(),
		Adaptive: probe.Adaptive(),
	}, nil
}

// withDefaults merges params over defaults and rejects unknown keys.
func withDefaults(params Params, defaults Params) (Params, error) {
	merged := make(Params, len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range params {
		nk := Normalize(k)
		if _, ok := defaults[nk]; !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidParams, k)
		}
		merged[nk] = v
	}
	return merged, nil
}

func fixed(build func() Integrator) Constructor {
	return func(dt float64, params Params) (Integrator, error) {
		if _, err := withDefaults(params, Params{}); err != nil {
			return nil, err
		}
		return build(), nil
	}
}

func newBackwardEuler(dt float64, params Params) (Integrator, error) {
	p, err := withDefaults(params, Params{
		"max_iter": DefaultNewtonIterations,
		"tol":      DefaultNewtonTolerance,
	})
	if err != nil {
		return nil, err
	}
	return NewBackwardEuler(int(p["max_iter"]), p["tol"])
}

func newRK45(dt float64, params Params) (Integrator, error) {
	d := DefaultRK45Params(dt)
	p, err := withDefaults(params, Params{
		"rtol":        d.RTol,
		"atol":        d.ATol,
		"safety":      d.Safety,
		"min_step":    d.MinStep,
		"max_step":    d.MaxStep,
		"max_rejects": float64(d.MaxRejects),
	})
	if err != nil {
		return nil, err
	}
	return NewRK45(RK45Params{
		RTol:       p["rtol"],
		ATol:       p["atol"],
		Safety:     p["safety"],
		MinStep:    p["min_step"],
		MaxStep:    p["max_step"],
		MaxRejects: int(p["max_rejects"]),
	})
}

// Default holds the built-in integrators.
var Default = NewRegistry()

func init() {
	Default.Register("euler", fixed(func() Integrator { return NewEuler() }), "forward_euler", "explicit_euler")
	Default.Register("midpoint", fixed(func() Integrator { return NewMidpoint() }), "rk2", "explicit_midpoint")
	Default.Register("rk4", fixed(func() Integrator { return NewRK4() }), "classical_rk4", "runge_kutta")
	Default.Register("rk38", fixed(func() Integrator { return NewRK38() }), "rk4_38", "rk4_3_8", "three_eighths")
	Default.Register("backward_euler", newBackwardEuler, "implicit_euler", "beuler")
	Default.Register("rk45", newRK45, "dopri5", "dormand_prince", "adaptive", "adaptive_rk45")
	Default.Register("zoh", fixed(func() Integrator { return NewZOH() }), "zero_order_hold", "discrete")
	Default.Register("verlet", fixed(func() Integrator { return NewVerlet() }), "velocity_verlet")
	Default.Register("leapfrog", fixed(func() Integrator { return NewLeapfrog() }))
}

func Create(id string, dt float64, params Params) (Integrator, error) {
	return Default.Create(id, dt, params)
}

func Register(id string, ctor Constructor, aliases ...string) {
	Default.Register(id, ctor, aliases...)
}

func Available() []string {
	return Default.Available()
}
