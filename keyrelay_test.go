package keyrelay

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrelay/keyrelay/engine"
	"github.com/keyrelay/keyrelay/params"
)

func rsaPublicParams(t *testing.T) params.Params {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	return params.Params{
		params.BigInt(params.KeyRSAModulus, key.N),
		params.Int(params.KeyRSAExponent, key.E),
	}
}

func TestInitRegistersFamilies(t *testing.T) {
	root := engine.NewEnvironment()
	p, err := Init(root, Config{})
	require.NoError(t, err)
	defer p.Teardown()

	assert.Equal(t, DefaultName, p.Name())

	// Host-side lookups now route to this provider.
	for _, name := range []string{"RSA", "rsaEncryption", "RSA-PSS", "RSASSA-PSS", "EC", "id-ecPublicKey"} {
		provider, err := root.ResolvedProvider(name)
		require.NoError(t, err, "algorithm %s", name)
		assert.Equal(t, DefaultName, provider)
	}
}

func TestInitRejectsBadInput(t *testing.T) {
	_, err := Init(nil, Config{})
	assert.ErrorIs(t, err, ErrNilEnvironment)

	_, err = Init(engine.NewEnvironment(), Config{Name: "bad name"})
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestChildEnvironmentExcludesSelf(t *testing.T) {
	root := engine.NewEnvironment()
	p, err := Init(root, Config{})
	require.NoError(t, err)
	defer p.Teardown()

	// The provider shadows the default engine in the root, but its own
	// environment never resolves back to it. This is the anti-recursion
	// property everything else depends on.
	provider, err := root.ResolvedProvider("RSA")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, provider)

	provider, err = p.Environment().ResolvedProvider("RSA")
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultProvider, provider)
}

func TestHostConstructionRoutesThroughProvider(t *testing.T) {
	root := engine.NewEnvironment()
	p, err := Init(root, Config{})
	require.NoError(t, err)
	defer p.Teardown()

	key, err := engine.FromData(root, "RSA", params.SelectPublicKey, rsaPublicParams(t))
	require.NoError(t, err)
	assert.Equal(t, "RSA", key.Algorithm())
	assert.Equal(t, 1024, key.Bits())
}

func TestDelegationSurvivesProviderRemoval(t *testing.T) {
	root := engine.NewEnvironment()
	p, err := Init(root, Config{})
	require.NoError(t, err)
	defer p.Teardown()

	table := p.QueryOperation(OpKeyManagement)
	require.NotEmpty(t, table)
	rsaMgr := table[0].KeyManager

	r := rsaMgr.New()
	defer rsaMgr.Free(r)
	require.NoError(t, rsaMgr.Import(r, params.SelectPublicKey, rsaPublicParams(t)))

	// Pull the provider's registrations out of the root. Imports keep
	// working because delegation never depended on them.
	root.Deregister(p.Name())

	r2 := rsaMgr.New()
	defer rsaMgr.Free(r2)
	assert.NoError(t, rsaMgr.Import(r2, params.SelectPublicKey, rsaPublicParams(t)))
	assert.True(t, rsaMgr.Match(r, r2, params.SelectDomainParameters))
}

func TestQueryOperation(t *testing.T) {
	root := engine.NewEnvironment()
	p, err := Init(root, Config{})
	require.NoError(t, err)
	defer p.Teardown()

	table := p.QueryOperation(OpKeyManagement)
	require.Len(t, table, 3)

	names := map[string]bool{}
	for _, alg := range table {
		names[alg.Names[0]] = true
		assert.NotNil(t, alg.KeyManager)
		assert.Equal(t, "provider="+DefaultName, alg.Properties)
	}
	assert.True(t, names["RSA"])
	assert.True(t, names["RSA-PSS"])
	assert.True(t, names["EC"])

	// RSA and RSA-PSS dispatch to the same manager.
	assert.Same(t, table[0].KeyManager, table[1].KeyManager)

	assert.Nil(t, p.QueryOperation(OpSignature))
	assert.Nil(t, p.QueryOperation(Operation(99)))
}

func TestProviderGetParams(t *testing.T) {
	root := engine.NewEnvironment()
	p, err := Init(root, Config{})
	require.NoError(t, err)
	defer p.Teardown()

	ps := p.GettableParams()
	require.NoError(t, p.GetParams(ps))

	name, ok := ps.GetUTF8(params.KeyProviderName)
	require.True(t, ok)
	assert.Equal(t, "Keyrelay External Key Provider", name)

	assert.Error(t, p.GetParams(params.Params{params.Int(params.KeyBits, 0)}))
}

func TestTeardownIdempotent(t *testing.T) {
	root := engine.NewEnvironment()
	p, err := Init(root, Config{})
	require.NoError(t, err)

	p.Teardown()
	p.Teardown()

	_, err = p.Environment().Resolve("RSA")
	assert.ErrorIs(t, err, engine.ErrClosed)
}

func TestJournalObservesImports(t *testing.T) {
	var buf bytes.Buffer
	root := engine.NewEnvironment()
	p, err := Init(root, Config{AuditOutput: &buf})
	require.NoError(t, err)

	sub := p.Journal().Subscribe()

	table := p.QueryOperation(OpKeyManagement)
	m := table[0].KeyManager
	r := m.New()
	require.NoError(t, m.Import(r, params.SelectPublicKey, rsaPublicParams(t)))
	m.Free(r)

	e := <-sub.C
	assert.Equal(t, "import", e.Operation)
	assert.Equal(t, "RSA", e.Family)
	assert.NotEmpty(t, e.Detail["fingerprint"])

	p.Journal().Unsubscribe(sub)
	p.Teardown()
	assert.NotEmpty(t, buf.Bytes())
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, DefaultAuditBuffer, cfg.AuditBuffer)

	cfg = Config{Name: "custom", AuditBuffer: 8}.WithDefaults()
	assert.Equal(t, "custom", cfg.Name)
	assert.Equal(t, 8, cfg.AuditBuffer)
}

func TestConfigValidate(t *testing.T) {
	for _, name := range []string{"", "a b", "a=b", "a!b", "a,b"} {
		cfg := Config{Name: name}
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidName, "name %q", name)
	}

	cfg := Config{Name: "keyrelay2"}
	assert.NoError(t, cfg.Validate())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("KEYRELAY_NAME", "envprov")
	t.Setenv("KEYRELAY_AUDIT_BUFFER", "32")

	cfg := ConfigFromEnv()
	assert.Equal(t, "envprov", cfg.Name)
	assert.Equal(t, 32, cfg.AuditBuffer)
	assert.Nil(t, cfg.AuditOutput)

	t.Setenv("KEYRELAY_AUDIT_BUFFER", "not-a-number")
	assert.Equal(t, DefaultAuditBuffer, ConfigFromEnv().AuditBuffer)
}
