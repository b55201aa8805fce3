package engine

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/keyrelay/keyrelay/params"
)

// buildRSA assembles a native RSA key from n/e (+d for a private
// selection). The public half is mandatory: a selection without a public
// or key-pair bit cannot produce a key.
func buildRSA(sel params.Selection, p params.Params) (*Key, error) {
	if !sel.Public() && !sel.KeyPair() {
		return nil, fmt.Errorf("%w: rsa: no public key selected", ErrInvalidKeyData)
	}

	n, ok := p.GetBigInt(params.KeyRSAModulus)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("%w: rsa: missing or invalid modulus", ErrInvalidKeyData)
	}
	e, ok := p.GetInt(params.KeyRSAExponent)
	if !ok {
		// Accept a big-integer exponent too; hosts differ here.
		if eb, bok := p.GetBigInt(params.KeyRSAExponent); bok && eb.IsInt64() {
			e = int(eb.Int64())
			ok = true
		}
	}
	if !ok || e <= 1 {
		return nil, fmt.Errorf("%w: rsa: missing or invalid public exponent", ErrInvalidKeyData)
	}

	pub := &rsa.PublicKey{N: new(big.Int).Set(n), E: e}
	key := &Key{algorithm: "RSA", pub: pub}

	if sel.Private() {
		d, ok := p.GetBigInt(params.KeyRSAPrivateExponent)
		if !ok || d.Sign() <= 0 {
			return nil, fmt.Errorf("%w: rsa: missing private exponent", ErrInvalidKeyData)
		}
		key.priv = &rsa.PrivateKey{PublicKey: *pub, D: new(big.Int).Set(d)}
	}
	return key, nil
}

// buildEC assembles a native EC key from group/x/y (+priv for a private
// selection).
func buildEC(sel params.Selection, p params.Params) (*Key, error) {
	if !sel.Public() && !sel.KeyPair() {
		return nil, fmt.Errorf("%w: ec: no public key selected", ErrInvalidKeyData)
	}

	group, ok := p.GetUTF8(params.KeyECGroup)
	if !ok {
		return nil, fmt.Errorf("%w: ec: missing group", ErrInvalidKeyData)
	}
	curve, ok := curveByName(group)
	if !ok {
		return nil, fmt.Errorf("%w: ec: unsupported group %q", ErrInvalidKeyData, group)
	}

	x, okX := p.GetBigInt(params.KeyECX)
	y, okY := p.GetBigInt(params.KeyECY)
	if !okX || !okY {
		return nil, fmt.Errorf("%w: ec: missing public coordinates", ErrInvalidKeyData)
	}

	pub := &ecdsa.PublicKey{Curve: curve, X: new(big.Int).Set(x), Y: new(big.Int).Set(y)}
	// ECDH conversion validates the point is on the curve without reaching
	// for deprecated curve arithmetic.
	if _, err := pub.ECDH(); err != nil {
		return nil, fmt.Errorf("%w: ec: point not on %s: %v", ErrInvalidKeyData, group, err)
	}

	key := &Key{algorithm: "EC", pub: pub}

	if sel.Private() {
		d, ok := p.GetBigInt(params.KeyECPrivate)
		if !ok {
			return nil, fmt.Errorf("%w: ec: missing private scalar", ErrInvalidKeyData)
		}
		order := curve.Params().N
		if d.Sign() <= 0 || d.Cmp(order) >= 0 {
			return nil, fmt.Errorf("%w: ec: private scalar out of range", ErrInvalidKeyData)
		}
		key.priv = &ecdsa.PrivateKey{PublicKey: *pub, D: new(big.Int).Set(d)}
	}
	return key, nil
}

func curveByName(name string) (elliptic.Curve, bool) {
	switch name {
	case "P-256", "prime256v1", "secp256r1":
		return elliptic.P256(), true
	case "P-384", "secp384r1":
		return elliptic.P384(), true
	case "P-521", "secp521r1":
		return elliptic.P521(), true
	default:
		return nil, false
	}
}
