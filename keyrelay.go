// Package keyrelay implements a key-delegation provider: a component a
// host cryptographic library loads so that private-key operations can be
// serviced by an external backend, while public-key work is delegated back
// to the host's native engine.
//
// The provider advertises key-management capability for two asymmetric
// families (RSA, including RSA-PSS, and EC) and deliberately no signature
// capability. All native operations it performs internally run inside an
// isolated child environment whose default properties exclude this same
// provider, so delegated public-key math can never route back into it.
package keyrelay

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/keyrelay/keyrelay/audit"
	"github.com/keyrelay/keyrelay/engine"
	"github.com/keyrelay/keyrelay/keymgmt"
	"github.com/keyrelay/keyrelay/params"
)

const providerDescription = "Keyrelay External Key Provider"

var ErrNilEnvironment = errors.New("keyrelay: nil root environment")

// Operation identifies a class of capability the host may query for.
type Operation int

const (
	OpKeyManagement Operation = iota + 1
	OpSignature
)

func (o Operation) String() string {
	switch o {
	case OpKeyManagement:
		return "keymgmt"
	case OpSignature:
		return "signature"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// Algorithm is one row of the registration table: the canonical
// identifiers of a supported family, the property string the host uses
// for routing, the dispatch surface, and a human-readable description.
type Algorithm struct {
	Names       []string
	Properties  string
	KeyManager  *keymgmt.Manager
	Description string
}

// Provider is the per-load context. Create with Init, dispose with
// Teardown.
type Provider struct {
	name    string
	log     *slog.Logger
	root    *engine.Environment
	env     *engine.Environment
	journal *audit.Journal
	metrics *keymgmt.Metrics

	algorithms []Algorithm

	teardown sync.Once
}

// Init constructs the provider context from the host-supplied root
// environment: it derives the isolated child environment with the
// self-exclusion property, builds the family managers and registration
// table, and registers the provider's algorithms into the root. On error
// no partial dispatch state is left behind.
func Init(root *engine.Environment, cfg Config) (*Provider, error) {
	if root == nil {
		return nil, ErrNilEnvironment
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("provider", cfg.Name)

	// The child environment is the correctness heart of the provider:
	// every native operation delegated from our dispatch surface resolves
	// through it, and its default properties bar this provider from the
	// lookup, so delegation can never recurse into us.
	child := engine.NewChild(root, engine.WithDefaultProperties("provider!="+cfg.Name))

	journal := audit.NewJournal(cfg.AuditBuffer, cfg.AuditOutput)
	metrics := keymgmt.NewMetrics(cfg.Metrics)

	rsaMgr := keymgmt.NewManager("RSA", "RSA", child, log, journal, metrics)
	ecMgr := keymgmt.NewManager("EC", "EC", child, log, journal, metrics)

	props := "provider=" + cfg.Name
	p := &Provider{
		name:    cfg.Name,
		log:     log,
		root:    root,
		env:     child,
		journal: journal,
		metrics: metrics,
		algorithms: []Algorithm{
			{Names: []string{"RSA", "rsaEncryption"}, Properties: props, KeyManager: rsaMgr,
				Description: "Keyrelay RSA key manager"},
			{Names: []string{"RSA-PSS", "RSASSA-PSS"}, Properties: props, KeyManager: rsaMgr,
				Description: "Keyrelay RSA-PSS key manager"},
			{Names: []string{"EC", "id-ecPublicKey"}, Properties: props, KeyManager: ecMgr,
				Description: "Keyrelay EC key manager"},
		},
	}

	// Register our families into the root so host-side lookups can route
	// to this provider. Construction through these registrations funnels
	// into the same managers, whose own delegation always runs in the
	// excluded child environment.
	for _, alg := range p.algorithms {
		root.Register(cfg.Name, strings.Join(alg.Names, ":"), providerConstructor(alg.KeyManager))
	}

	log.Info("provider initialized", "families", len(p.algorithms))
	return p, nil
}

// providerConstructor adapts a key manager into the engine's constructor
// shape: allocate a record, import the parameters, hand back the native
// public key.
func providerConstructor(m *keymgmt.Manager) engine.Constructor {
	return func(sel params.Selection, p params.Params) (*engine.Key, error) {
		r := m.New()
		defer m.Free(r)

		if err := m.Import(r, sel, p); err != nil {
			return nil, err
		}
		return r.PublicKey(), nil
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Environment returns the provider's isolated child environment.
func (p *Provider) Environment() *engine.Environment { return p.env }

// Journal returns the provider's audit journal.
func (p *Provider) Journal() *audit.Journal { return p.journal }

// QueryOperation returns the registration table for an operation class.
// Only key management is provided; a signature query (or any other class)
// answers "not provided".
func (p *Provider) QueryOperation(op Operation) []Algorithm {
	p.log.Debug("entry", "op", "query-operation", "class", op)

	switch op {
	case OpKeyManagement:
		table := make([]Algorithm, len(p.algorithms))
		copy(table, p.algorithms)
		return table
	default:
		p.log.Debug("operation not provided", "class", op)
		return nil
	}
}

// GettableParams describes the provider-wide parameters GetParams serves:
// the provider name only.
func (p *Provider) GettableParams() params.Params {
	return params.Params{params.UTF8(params.KeyProviderName, "")}
}

// GetParams fills provider-wide parameters.
func (p *Provider) GetParams(ps params.Params) error {
	f := ps.Locate(params.KeyProviderName)
	if f == nil {
		return fmt.Errorf("keyrelay: no requested parameter recognized")
	}
	f.Kind, f.UTF8 = params.KindUTF8, providerDescription
	return nil
}

// Teardown releases the provider context: reports still-live records,
// closes the journal, and releases the isolated environment. Safe to call
// exactly once per successful Init; repeated calls are no-ops.
func (p *Provider) Teardown() {
	p.teardown.Do(func() {
		seen := map[*keymgmt.Manager]bool{}
		for _, alg := range p.algorithms {
			if seen[alg.KeyManager] {
				continue
			}
			seen[alg.KeyManager] = true
			for _, r := range alg.KeyManager.LiveRecords() {
				p.log.Warn("record still referenced at teardown",
					"family", alg.KeyManager.OperationName(), "record", r.ID(), "refs", r.Refs())
			}
		}
		p.journal.Close()
		p.env.Close()
		p.log.Info("provider torn down")
	})
}
