package keymgmt

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/keyrelay/keyrelay/engine"
	"github.com/keyrelay/keyrelay/params"
)

// Origin tracks who owns the private material of a record.
type Origin int

const (
	OriginUndefined Origin = iota
	// OriginNativeImported: the private half (when present) is a native key
	// this record owns and wipes on destruction.
	OriginNativeImported
	// OriginExternallyBacked: the private half is an opaque token whose
	// lifetime belongs to the external backend. Never freed here.
	OriginExternallyBacked
)

func (o Origin) String() string {
	switch o {
	case OriginNativeImported:
		return "native-imported"
	case OriginExternallyBacked:
		return "externally-backed"
	default:
		return "undefined"
	}
}

// PrivateMaterial is the tagged variant holding a record's private half.
// Absent is represented by a nil interface value.
type PrivateMaterial interface {
	privateMaterial()
}

// NativeMaterial is an owned native private key, wiped with the record.
type NativeMaterial struct {
	Key *engine.Key
}

func (NativeMaterial) privateMaterial() {}

// ExternalMaterial is an opaque backend token. The backend owns its
// lifetime; the record only carries it.
type ExternalMaterial struct {
	Token any
}

func (ExternalMaterial) privateMaterial() {}

// Record is the encapsulated key object: an optional opaque private half,
// a native public key, an origin tag, a back-reference to the owning
// isolated environment, and a reference count.
//
// A record is populated exactly once by an import and is immutable
// afterwards. Steady-state reads therefore need no locking; the reference
// count is the only field touched concurrently.
type Record struct {
	id    string
	owner *engine.Environment

	refs      atomic.Int32
	destroyed atomic.Bool
	onDestroy func(*Record)

	public  *engine.Key
	private PrivateMaterial
	origin  Origin
}

func newRecord(owner *engine.Environment, onDestroy func(*Record)) *Record {
	r := &Record{
		id:        uuid.NewString(),
		owner:     owner,
		onDestroy: onDestroy,
	}
	r.refs.Add(1)
	return r
}

// ID returns the record's correlation id.
func (r *Record) ID() string { return r.id }

// Origin returns the origin tag.
func (r *Record) Origin() Origin { return r.origin }

// PublicKey returns the native public key, or nil for an empty record.
func (r *Record) PublicKey() *engine.Key { return r.public }

// Private returns the private-material variant, or nil when absent.
func (r *Record) Private() PrivateMaterial { return r.private }

// Refs returns the current reference count.
func (r *Record) Refs() int { return int(r.refs.Load()) }

// Retain adds a reference. Returns the record for chaining.
func (r *Record) Retain() *Record {
	r.refs.Add(1)
	return r
}

// Release drops a reference, destroying the record when the count reaches
// zero. Releasing a record already at zero is a safe no-op.
func (r *Record) Release() {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return
		}
		if r.refs.CompareAndSwap(n, n-1) {
			if n-1 == 0 {
				r.destroy()
			}
			return
		}
	}
}

func (r *Record) destroy() {
	if !r.destroyed.CompareAndSwap(false, true) {
		return
	}
	// Private material is wiped only when this record owns it; an
	// externally backed token belongs to the backend.
	if nm, ok := r.private.(NativeMaterial); ok && nm.Key != nil {
		nm.Key.Wipe()
	}
	r.private = nil
	r.public = nil
	if r.onDestroy != nil {
		r.onDestroy(r)
	}
}

// Capabilities reports which selection bits the record satisfies: public,
// key-pair and domain-parameters require the public key; private requires
// the private half.
func (r *Record) Capabilities() params.Selection {
	var caps params.Selection
	if r.public != nil {
		caps |= params.SelectPublicKey | params.SelectKeyPair | params.SelectDomainParameters
	}
	if r.private != nil {
		caps |= params.SelectPrivateKey
	}
	return caps
}

func (r *Record) String() string {
	fp := ""
	if r.public != nil {
		fp = r.public.FingerprintHex()
	}
	return fmt.Sprintf("record{id=%s origin=%s fp=%s refs=%d}", r.id, r.origin, fp, r.refs.Load())
}
