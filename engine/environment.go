// Package engine binds the provider to the host library's native crypto
// engine. An Environment is the host's library context: a resolution scope
// mapping algorithm names to key constructors, with property filters that
// control which registered providers a lookup may reach. The platform
// implementations (crypto/rsa, crypto/ecdsa) are registered as the default
// engine when a root environment is created.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/keyrelay/keyrelay/params"
)

// DefaultProvider is the provider name under which the built-in native
// engine registers its constructors.
const DefaultProvider = "default"

var (
	ErrUnknownAlgorithm = errors.New("engine: no constructor for algorithm")
	ErrClosed           = errors.New("engine: environment is closed")
	ErrInvalidKeyData   = errors.New("engine: invalid key data")
)

// Constructor builds a native key object from a parameter list restricted
// to a selection.
type Constructor func(sel params.Selection, p params.Params) (*Key, error)

type registration struct {
	provider string
	names    map[string]bool
	ctor     Constructor
}

// Environment is a resolution scope for native key constructors. A child
// environment derived with NewChild shares its parent's registrations but
// applies its own default properties, so lookups made through the child can
// exclude specific providers.
type Environment struct {
	mu      sync.RWMutex
	regs    []registration
	exclude map[string]bool
	parent  *Environment
	closed  bool
}

// NewEnvironment creates a root environment with the built-in native
// engine registered for the RSA and EC families.
func NewEnvironment() *Environment {
	e := &Environment{exclude: map[string]bool{}}
	e.Register(DefaultProvider, "RSA:rsaEncryption:RSA-PSS:RSASSA-PSS", buildRSA)
	e.Register(DefaultProvider, "EC:id-ecPublicKey", buildEC)
	return e
}

// Option configures a derived environment.
type Option func(*Environment)

// WithDefaultProperties applies a property query string to every lookup
// made through the environment. Supported form: comma-separated
// "provider!=name" terms, each barring the named provider from resolution.
func WithDefaultProperties(props string) Option {
	return func(e *Environment) {
		for _, term := range strings.Split(props, ",") {
			term = strings.TrimSpace(term)
			if name, ok := strings.CutPrefix(term, "provider!="); ok && name != "" {
				e.exclude[name] = true
			}
		}
	}
}

// NewChild derives a private sub-environment from parent. The child sees
// the parent's registrations, filtered by its own default properties.
func NewChild(parent *Environment, opts ...Option) *Environment {
	e := &Environment{parent: parent, exclude: map[string]bool{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a constructor under the given provider name. names is a
// colon-separated list of algorithm identifiers the constructor services.
func (e *Environment) Register(provider, names string, ctor Constructor) {
	nameSet := map[string]bool{}
	for _, n := range strings.Split(names, ":") {
		if n != "" {
			nameSet[n] = true
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.regs = append(e.regs, registration{provider: provider, names: nameSet, ctor: ctor})
}

// Deregister removes every registration owned by the given provider, as
// when the host unloads it.
func (e *Environment) Deregister(provider string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.regs[:0]
	for _, r := range e.regs {
		if r.provider != provider {
			kept = append(kept, r)
		}
	}
	e.regs = kept
}

// Resolve finds a constructor for the algorithm name. Registrations are
// consulted newest-first, so a loaded provider shadows the default engine
// unless the environment's default properties exclude it.
func (e *Environment) Resolve(algorithm string) (Constructor, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	exclude := e.exclude
	e.mu.RUnlock()

	for env := e; env != nil; env = env.parent {
		env.mu.RLock()
		for i := len(env.regs) - 1; i >= 0; i-- {
			r := env.regs[i]
			if exclude[r.provider] || !r.names[algorithm] {
				continue
			}
			env.mu.RUnlock()
			return r.ctor, nil
		}
		env.mu.RUnlock()
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
}

// ResolvedProvider reports which provider's constructor a Resolve call
// would return. Used by diagnostics and isolation checks.
func (e *Environment) ResolvedProvider(algorithm string) (string, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return "", ErrClosed
	}
	exclude := e.exclude
	e.mu.RUnlock()

	for env := e; env != nil; env = env.parent {
		env.mu.RLock()
		for i := len(env.regs) - 1; i >= 0; i-- {
			r := env.regs[i]
			if exclude[r.provider] || !r.names[algorithm] {
				continue
			}
			provider := r.provider
			env.mu.RUnlock()
			return provider, nil
		}
		env.mu.RUnlock()
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
}

// FromData resolves a constructor for the algorithm in the environment and
// builds a native key from the parameter list restricted to sel.
func FromData(env *Environment, algorithm string, sel params.Selection, p params.Params) (*Key, error) {
	ctor, err := env.Resolve(algorithm)
	if err != nil {
		return nil, err
	}
	return ctor(sel, p)
}

// Close releases the environment. Subsequent lookups fail with ErrClosed.
// Closing a child never affects the parent's registrations.
func (e *Environment) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.parent = nil
	e.regs = nil
}
