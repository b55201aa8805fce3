// Package keymgmt implements the key-management dispatch surface the host
// invokes against encapsulated key records: construction, destruction,
// capability and match queries, whole-key import, and parameter access.
//
// All public-key work is delegated to the host's native engine through the
// owning provider's isolated environment; this package implements no
// cryptographic primitives of its own.
package keymgmt

import (
	"fmt"
	"log/slog"

	"github.com/keyrelay/keyrelay/audit"
	"github.com/keyrelay/keyrelay/engine"
	"github.com/keyrelay/keyrelay/params"
)

// Manager services one key family. The same manager may back several host
// registrations (RSA and RSA-PSS share one), differing only in the family
// name reported and the native constructor requested.
type Manager struct {
	family    string
	algorithm string
	env       *engine.Environment
	log       *slog.Logger
	journal   *audit.Journal
	metrics   *Metrics
	records   *tracker
}

// NewManager creates a manager for a family. family is the operation name
// reported to the host; algorithm is the native constructor name requested
// from env. journal may be nil.
func NewManager(family, algorithm string, env *engine.Environment, log *slog.Logger, journal *audit.Journal, metrics *Metrics) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Manager{
		family:    family,
		algorithm: algorithm,
		env:       env,
		log:       log.With("family", family),
		journal:   journal,
		metrics:   metrics,
		records:   newTracker(),
	}
}

// OperationName returns the family name, constant per family.
func (m *Manager) OperationName() string { return m.family }

// New allocates an empty record owned by the manager's environment.
func (m *Manager) New() *Record {
	m.log.Debug("entry", "op", "new")

	r := newRecord(m.env, func(r *Record) {
		m.records.remove(r)
		m.metrics.LiveRecords.Dec()
	})
	m.records.add(r)
	m.metrics.LiveRecords.Inc()
	return r
}

// Free releases a reference on the record. Nil-safe, and a no-op once the
// count has reached zero.
func (m *Manager) Free(r *Record) {
	m.log.Debug("entry", "op", "free")

	if r == nil {
		return
	}
	r.Release()
}

// Load resolves a key by reference. This provider never originates bare
// in-memory references independent of an import, so there is no backing
// store to resolve against: every reference is reported not found.
func (m *Manager) Load(reference []byte) (*Record, error) {
	m.log.Debug("entry", "op", "load")

	return nil, ErrNotFound
}

// Has reports whether the record satisfies every requested selection bit.
func (m *Manager) Has(r *Record, sel params.Selection) bool {
	m.log.Debug("entry", "op", "has", "selection", sel)

	if r == nil {
		return false
	}
	return r.Capabilities().Has(sel)
}

// Match compares two records under the selection. Records without public
// keys never match; private material is never compared — the backend, not
// this core, is the source of truth for private equivalence.
func (m *Manager) Match(a, b *Record, sel params.Selection) bool {
	m.log.Debug("entry", "op", "match", "selection", sel)
	m.metrics.Matches.Inc()

	if a == nil || b == nil || a.public == nil || b.public == nil {
		return false
	}
	ok := true
	if sel.KeyPair() {
		ok = ok && a.public.Equal(b.public)
	}
	if sel.DomainParameters() {
		ok = ok && a.public.ParametersEqual(b.public)
	}
	return ok
}

// Import populates an empty record from a parameter list. The native
// public key is built first, restricted to the public subset of sel; on
// failure nothing is committed. When sel also requests the private subset,
// a failed private construction is non-fatal: the record keeps its public
// half and the skipped attach is logged and counted.
func (m *Manager) Import(r *Record, sel params.Selection, p params.Params) (err error) {
	defer m.guard("import", &err)()

	if r == nil {
		return wrapOp("import", m.family, "", ErrNilRecord)
	}
	if r.public != nil || r.private != nil {
		m.log.Warn("import rejected: record not empty, keys are immutable", "record", r.id)
		return wrapOp("import", m.family, r.id, ErrNotEmpty)
	}

	env := r.owner
	if env == nil {
		env = m.env
	}

	pubSel := sel &^ params.SelectPrivateKey
	pub, buildErr := engine.FromData(env, m.algorithm, pubSel, p)
	if buildErr != nil {
		m.journalRecord("import", r.id, audit.StatusError, nil)
		m.metrics.Imports.WithLabelValues(m.family, ResultError).Inc()
		return wrapOp("import", m.family, r.id, fmt.Errorf("%w: %v", ErrConstruction, buildErr))
	}

	r.public = pub
	r.origin = OriginNativeImported

	result := ResultOK
	status := audit.StatusOK
	if sel.Private() {
		priv, privErr := engine.FromData(env, m.algorithm, sel, p)
		if privErr != nil {
			// Defined behavior: the public half stands, only the private
			// attach is skipped.
			m.log.Warn("private key construction failed, keeping public half",
				"record", r.id, "error", privErr)
			result, status = ResultPartial, audit.StatusPartial
		} else {
			r.private = NativeMaterial{Key: priv}
		}
	}

	m.journalRecord("import", r.id, status, map[string]string{
		"fingerprint": pub.FingerprintHex(),
		"origin":      r.origin.String(),
	})
	m.metrics.Imports.WithLabelValues(m.family, result).Inc()
	m.log.Debug("imported native key", "record", r.id, "fingerprint", pub.FingerprintHex())
	return nil
}

// ImportExternal populates an empty record with a native public key and an
// opaque backend token as its private half. The token's lifetime belongs
// to the backend; destruction of the record never releases it. Not
// reachable from the host's generic import path.
func (m *Manager) ImportExternal(r *Record, p params.Params, token any) (err error) {
	defer m.guard("import-external", &err)()

	if r == nil {
		return wrapOp("import-external", m.family, "", ErrNilRecord)
	}
	if r.public != nil || r.private != nil {
		return wrapOp("import-external", m.family, r.id, ErrNotEmpty)
	}

	env := r.owner
	if env == nil {
		env = m.env
	}

	pub, buildErr := engine.FromData(env, m.algorithm, params.SelectPublicKey, p)
	if buildErr != nil {
		m.journalRecord("import-external", r.id, audit.StatusError, nil)
		m.metrics.Imports.WithLabelValues(m.family, ResultError).Inc()
		return wrapOp("import-external", m.family, r.id, fmt.Errorf("%w: %v", ErrConstruction, buildErr))
	}

	r.public = pub
	r.private = ExternalMaterial{Token: token}
	r.origin = OriginExternallyBacked

	m.journalRecord("import-external", r.id, audit.StatusOK, map[string]string{
		"fingerprint": pub.FingerprintHex(),
		"origin":      r.origin.String(),
	})
	m.metrics.Imports.WithLabelValues(m.family, ResultOK).Inc()
	return nil
}

// ImportTypes reports which individual field-level parameters may be
// imported piecewise: none — import is all-or-nothing via whole-key
// parameter lists. The empty-but-non-nil list for public selections keeps
// the host's generic import path alive so it still invokes Import.
func (m *Manager) ImportTypes(sel params.Selection) params.Params {
	m.log.Debug("entry", "op", "import-types", "selection", sel)

	if sel.Public() || sel.KeyPair() {
		return params.Params{}
	}
	return nil
}

// Gettable describes the parameters GetParams can fill.
func (m *Manager) Gettable() params.Params {
	return params.Params{
		params.Int(params.KeyBits, 0),
		params.Int(params.KeySecurityBits, 0),
		params.Int(params.KeyMaxSize, 0),
	}
}

// Settable mirrors Gettable, matching the host's expectation that the
// descriptors exist even though assembled keys accept no mutations.
func (m *Manager) Settable() params.Params {
	return m.Gettable()
}

// GetParams delegates a parameter query to the native public key.
func (m *Manager) GetParams(r *Record, p params.Params) (err error) {
	defer m.guard("get-params", &err)()

	if r == nil {
		return wrapOp("get-params", m.family, "", ErrNilRecord)
	}
	if r.public == nil {
		return wrapOp("get-params", m.family, r.id, ErrNoPublicKey)
	}
	return r.public.GetParams(p)
}

// SetParams applies parameters to a record. Only natively imported records
// can be mutated, and only until a private half is attached: after that
// the record is immutable and the attempt is ignored with a warning rather
// than corrupting settled state.
func (m *Manager) SetParams(r *Record, p params.Params) (err error) {
	defer m.guard("set-params", &err)()

	if r == nil {
		return wrapOp("set-params", m.family, "", ErrNilRecord)
	}
	if r.origin != OriginNativeImported {
		return wrapOp("set-params", m.family, r.id,
			fmt.Errorf("%w: parameter mutation of %s records", ErrUnsupported, r.origin))
	}
	if r.private != nil {
		m.log.Warn("set-params ignored: record is immutable", "record", r.id)
		return nil
	}
	return r.public.SetParams(p)
}

// LiveRecords returns the manager's records that have not been destroyed.
// Used by provider teardown to report leaks.
func (m *Manager) LiveRecords() []*Record {
	return m.records.live()
}

// guard logs dispatch entry and converts a panic into an error so a fault
// in this provider never unwinds into the host.
func (m *Manager) guard(op string, err *error) func() {
	m.log.Debug("entry", "op", op)
	return func() {
		if p := recover(); p != nil {
			m.log.Error("panic in dispatch", "op", op, "panic", p)
			*err = fmt.Errorf("keymgmt: %s %s: panic: %v", m.family, op, p)
		}
	}
}

func (m *Manager) journalRecord(op, recordID, status string, detail map[string]string) {
	if m.journal == nil {
		return
	}
	m.journal.Record(op, m.family, recordID, status, detail)
}
