package engine

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/keyrelay/keyrelay/params"
)

// Key is a fully native key object assembled by the default engine. The
// public half is always present; the private half is present only when the
// originating selection asked for it and construction succeeded.
type Key struct {
	algorithm string
	pub       crypto.PublicKey
	priv      crypto.PrivateKey
}

// Algorithm returns the family name the key was constructed under.
func (k *Key) Algorithm() string { return k.algorithm }

// Public returns the native public key.
func (k *Key) Public() crypto.PublicKey { return k.pub }

// Private returns the native private key, or nil.
func (k *Key) Private() crypto.PrivateKey { return k.priv }

// HasPrivate reports whether the private half was constructed.
func (k *Key) HasPrivate() bool { return k.priv != nil }

// Equal tests component-wise public-key equality. Private material is
// never consulted.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return false
	}
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	pub, ok := k.pub.(equaler)
	if !ok {
		return false
	}
	return pub.Equal(other.pub)
}

// ParametersEqual tests domain-parameter equality: curve identity for EC
// keys, modulus-size identity for RSA (which has no domain parameters
// beyond the key size itself). Keys of different families never match.
func (k *Key) ParametersEqual(other *Key) bool {
	if k == nil || other == nil {
		return false
	}
	switch a := k.pub.(type) {
	case *ecdsa.PublicKey:
		b, ok := other.pub.(*ecdsa.PublicKey)
		return ok && a.Curve == b.Curve
	case *rsa.PublicKey:
		b, ok := other.pub.(*rsa.PublicKey)
		return ok && a.N.BitLen() == b.N.BitLen()
	default:
		return false
	}
}

// Bits returns the key size in bits.
func (k *Key) Bits() int {
	switch pub := k.pub.(type) {
	case *rsa.PublicKey:
		return pub.N.BitLen()
	case *ecdsa.PublicKey:
		return pub.Curve.Params().BitSize
	default:
		return 0
	}
}

// SecurityBits returns the conventional security strength estimate.
func (k *Key) SecurityBits() int {
	switch pub := k.pub.(type) {
	case *rsa.PublicKey:
		return rsaSecurityBits(pub.N.BitLen())
	case *ecdsa.PublicKey:
		return pub.Curve.Params().BitSize / 2
	default:
		return 0
	}
}

// MaxSize returns an upper bound on the size of a signature produced with
// this key: the modulus length for RSA, the DER-encoded two-integer bound
// for ECDSA.
func (k *Key) MaxSize() int {
	switch pub := k.pub.(type) {
	case *rsa.PublicKey:
		return (pub.N.BitLen() + 7) / 8
	case *ecdsa.PublicKey:
		fieldLen := (pub.Curve.Params().BitSize + 7) / 8
		return 2*(fieldLen+1) + 7
	default:
		return 0
	}
}

// GetParams fills the located fields of the query list from the key.
// Unknown keys in the list are left untouched, matching the host's
// locate-and-fill convention.
func (k *Key) GetParams(p params.Params) error {
	if f := p.Locate(params.KeyBits); f != nil {
		f.Kind, f.Int = params.KindInt, k.Bits()
	}
	if f := p.Locate(params.KeySecurityBits); f != nil {
		f.Kind, f.Int = params.KindInt, k.SecurityBits()
	}
	if f := p.Locate(params.KeyMaxSize); f != nil {
		f.Kind, f.Int = params.KindInt, k.MaxSize()
	}

	switch pub := k.pub.(type) {
	case *rsa.PublicKey:
		if f := p.Locate(params.KeyRSAModulus); f != nil {
			f.Kind, f.BigInt = params.KindBigInt, new(big.Int).Set(pub.N)
		}
		if f := p.Locate(params.KeyRSAExponent); f != nil {
			f.Kind, f.Int = params.KindInt, pub.E
		}
	case *ecdsa.PublicKey:
		if f := p.Locate(params.KeyECGroup); f != nil {
			f.Kind, f.UTF8 = params.KindUTF8, pub.Curve.Params().Name
		}
		if f := p.Locate(params.KeyECX); f != nil {
			f.Kind, f.BigInt = params.KindBigInt, new(big.Int).Set(pub.X)
		}
		if f := p.Locate(params.KeyECY); f != nil {
			f.Kind, f.BigInt = params.KindBigInt, new(big.Int).Set(pub.Y)
		}
	}
	return nil
}

// SetParams applies parameters to an assembled native key. Key material on
// an assembled key is not modifiable, so any key-material field is
// rejected; an empty list succeeds.
func (k *Key) SetParams(p params.Params) error {
	for i := range p {
		switch p[i].Key {
		case params.KeyRSAModulus, params.KeyRSAExponent, params.KeyRSAPrivateExponent,
			params.KeyECGroup, params.KeyECX, params.KeyECY, params.KeyECPrivate:
			return fmt.Errorf("%w: %q is not settable on an assembled key", ErrInvalidKeyData, p[i].Key)
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrInvalidKeyData, p[i].Key)
		}
	}
	return nil
}

// Fingerprint returns the SHA3-256 digest of the PKIX encoding of the
// public key. Used for log and audit correlation, never for equality.
func (k *Key) Fingerprint() []byte {
	der, err := x509.MarshalPKIXPublicKey(k.pub)
	if err != nil {
		return nil
	}
	sum := sha3.Sum256(der)
	return sum[:]
}

// FingerprintHex returns a short hex prefix of Fingerprint for logging.
func (k *Key) FingerprintHex() string {
	fp := k.Fingerprint()
	if len(fp) < 8 {
		return ""
	}
	return hex.EncodeToString(fp[:8])
}

// Wipe zeroes the private material, if any. The public half is untouched.
func (k *Key) Wipe() {
	switch priv := k.priv.(type) {
	case *rsa.PrivateKey:
		zeroBigInt(priv.D)
		for _, prime := range priv.Primes {
			zeroBigInt(prime)
		}
	case *ecdsa.PrivateKey:
		zeroBigInt(priv.D)
	}
	k.priv = nil
}

func zeroBigInt(b *big.Int) {
	if b == nil {
		return
	}
	words := b.Bits()
	for i := range words {
		words[i] = 0
	}
	b.SetInt64(0)
}

func rsaSecurityBits(bits int) int {
	switch {
	case bits >= 15360:
		return 256
	case bits >= 7680:
		return 192
	case bits >= 3072:
		return 128
	case bits >= 2048:
		return 112
	case bits >= 1024:
		return 80
	default:
		return 0
	}
}
