package keymgmt

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrelay/keyrelay/engine"
	"github.com/keyrelay/keyrelay/params"
)

func rsaKeyParams(t *testing.T, withPrivate bool) params.Params {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	p := params.Params{
		params.BigInt(params.KeyRSAModulus, key.N),
		params.Int(params.KeyRSAExponent, key.E),
	}
	if withPrivate {
		p = append(p, params.BigInt(params.KeyRSAPrivateExponent, key.D))
	}
	return p
}

func newTestManager(t *testing.T, family, algorithm string) *Manager {
	t.Helper()
	return NewManager(family, algorithm, engine.NewEnvironment(), nil, nil, NewMetrics(nil))
}

func TestImportPublicOnly(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")

	r := m.New()
	defer m.Free(r)

	require.NoError(t, m.Import(r, params.SelectPublicKey, rsaKeyParams(t, false)))

	assert.True(t, m.Has(r, params.SelectPublicKey))
	assert.True(t, m.Has(r, params.SelectKeyPair))
	assert.False(t, m.Has(r, params.SelectPrivateKey))
	assert.Equal(t, OriginNativeImported, r.Origin())

	query := params.Params{params.Int(params.KeyBits, 0)}
	require.NoError(t, m.GetParams(r, query))
	bits, ok := query.GetInt(params.KeyBits)
	require.True(t, ok)
	assert.Equal(t, 1024, bits)
}

func TestImportKeyPair(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")

	r := m.New()
	defer m.Free(r)

	sel := params.SelectPublicKey | params.SelectPrivateKey
	require.NoError(t, m.Import(r, sel, rsaKeyParams(t, true)))

	assert.True(t, m.Has(r, sel))
	nm, ok := r.Private().(NativeMaterial)
	require.True(t, ok)
	assert.True(t, nm.Key.HasPrivate())
}

func TestImportIntoPopulatedRecordFails(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")

	r := m.New()
	defer m.Free(r)

	require.NoError(t, m.Import(r, params.SelectPublicKey, rsaKeyParams(t, false)))
	before := r.PublicKey()

	err := m.Import(r, params.SelectPublicKey, rsaKeyParams(t, false))
	assert.ErrorIs(t, err, ErrNotEmpty)
	// The settled state is untouched.
	assert.Same(t, before, r.PublicKey())
}

func TestImportBadDataFailsCleanly(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")

	r := m.New()
	defer m.Free(r)

	p := params.Params{params.Int(params.KeyRSAExponent, 65537)}
	err := m.Import(r, params.SelectPublicKey, p)
	assert.ErrorIs(t, err, ErrConstruction)

	// Nothing committed: the record is still empty and importable.
	assert.Nil(t, r.PublicKey())
	assert.Equal(t, OriginUndefined, r.Origin())
	assert.NoError(t, m.Import(r, params.SelectPublicKey, rsaKeyParams(t, false)))
}

func TestImportPartialPrivateKeepsPublicHalf(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")

	r := m.New()
	defer m.Free(r)

	// Public fields only, but a key-pair selection: the private build has
	// no exponent to work with and is skipped.
	sel := params.SelectPublicKey | params.SelectPrivateKey
	require.NoError(t, m.Import(r, sel, rsaKeyParams(t, false)))

	assert.True(t, m.Has(r, params.SelectPublicKey))
	assert.False(t, m.Has(r, params.SelectPrivateKey))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.Imports.WithLabelValues("RSA", ResultPartial)))
}

func TestImportNilRecord(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")
	assert.ErrorIs(t, m.Import(nil, params.SelectPublicKey, nil), ErrNilRecord)
}

func TestImportExternal(t *testing.T) {
	m := newTestManager(t, "EC", "EC")

	r := m.New()
	defer m.Free(r)

	require.NoError(t, m.ImportExternal(r, ecKeyParams(t, false), "pkcs11:slot=3"))

	assert.Equal(t, OriginExternallyBacked, r.Origin())
	assert.True(t, m.Has(r, params.SelectPrivateKey))

	em, ok := r.Private().(ExternalMaterial)
	require.True(t, ok)
	assert.Equal(t, "pkcs11:slot=3", em.Token)
}

func TestMatchKeyPair(t *testing.T) {
	m := newTestManager(t, "EC", "EC")

	p := ecKeyParams(t, true)
	sel := params.SelectPublicKey | params.SelectPrivateKey
	a := m.New()
	defer m.Free(a)
	b := m.New()
	defer m.Free(b)
	require.NoError(t, m.Import(a, sel, p))
	require.NoError(t, m.Import(b, sel, p))
	assert.True(t, m.Has(a, params.SelectPrivateKey))

	// Reflexive and symmetric over the same public point.
	assert.True(t, m.Match(a, a, params.SelectKeyPair))
	assert.True(t, m.Match(a, b, params.SelectKeyPair))
	assert.True(t, m.Match(b, a, params.SelectKeyPair))

	c := m.New()
	defer m.Free(c)
	require.NoError(t, m.Import(c, params.SelectPublicKey, ecKeyParams(t, false)))

	assert.False(t, m.Match(a, c, params.SelectKeyPair))
	// Same curve still matches on domain parameters alone.
	assert.True(t, m.Match(a, c, params.SelectDomainParameters))
}

func TestMatchRequiresPublicKeys(t *testing.T) {
	m := newTestManager(t, "EC", "EC")

	a := m.New()
	defer m.Free(a)
	require.NoError(t, m.Import(a, params.SelectPublicKey, ecKeyParams(t, false)))

	empty := m.New()
	defer m.Free(empty)

	assert.False(t, m.Match(a, empty, params.SelectKeyPair))
	assert.False(t, m.Match(nil, a, params.SelectKeyPair))
}

func TestLoadAlwaysNotFound(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")

	r, err := m.Load([]byte("some-reference"))
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportTypes(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")

	for _, sel := range []params.Selection{
		params.SelectPublicKey,
		params.SelectKeyPair,
		params.SelectPublicKey | params.SelectPrivateKey,
	} {
		types := m.ImportTypes(sel)
		require.NotNil(t, types, "selection %s", sel)
		assert.Empty(t, types)
	}

	assert.Nil(t, m.ImportTypes(params.SelectPrivateKey))
	assert.Nil(t, m.ImportTypes(0))
}

func TestSetParamsImmutableAfterPrivateAttach(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")

	r := m.New()
	defer m.Free(r)

	sel := params.SelectPublicKey | params.SelectPrivateKey
	require.NoError(t, m.Import(r, sel, rsaKeyParams(t, true)))

	// Ignored, not an error: the host treats this as success.
	assert.NoError(t, m.SetParams(r, params.Params{params.Int(params.KeyBits, 0)}))
}

func TestSetParamsRejectsNonNativeRecords(t *testing.T) {
	m := newTestManager(t, "EC", "EC")

	empty := m.New()
	defer m.Free(empty)
	assert.ErrorIs(t, m.SetParams(empty, nil), ErrUnsupported)

	ext := m.New()
	defer m.Free(ext)
	require.NoError(t, m.ImportExternal(ext, ecKeyParams(t, false), "slot-9"))
	assert.ErrorIs(t, m.SetParams(ext, nil), ErrUnsupported)
}

func TestGetParamsRequiresPublicKey(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")

	r := m.New()
	defer m.Free(r)

	err := m.GetParams(r, params.Params{params.Int(params.KeyBits, 0)})
	assert.ErrorIs(t, err, ErrNoPublicKey)
}

func TestFreeTracksLiveRecords(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")

	a := m.New()
	b := m.New()
	assert.Len(t, m.LiveRecords(), 2)

	m.Free(a)
	assert.Len(t, m.LiveRecords(), 1)

	// Retained records survive one free.
	b.Retain()
	m.Free(b)
	assert.Len(t, m.LiveRecords(), 1)
	m.Free(b)
	assert.Empty(t, m.LiveRecords())

	m.Free(nil)
}

func TestOperationName(t *testing.T) {
	assert.Equal(t, "RSA", newTestManager(t, "RSA", "RSA").OperationName())
	assert.Equal(t, "EC", newTestManager(t, "EC", "EC").OperationName())
}

func TestOpErrorWrapping(t *testing.T) {
	m := newTestManager(t, "RSA", "RSA")

	r := m.New()
	defer m.Free(r)
	require.NoError(t, m.Import(r, params.SelectPublicKey, rsaKeyParams(t, false)))

	err := m.Import(r, params.SelectPublicKey, rsaKeyParams(t, false))
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "import", opErr.Op)
	assert.Equal(t, "RSA", opErr.Family)
	assert.Equal(t, r.ID(), opErr.RecordID)
}
