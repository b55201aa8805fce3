// Package params models the host's parameter-list structures: ordered sets
// of typed named fields passed across the provider boundary for key import
// and parameter queries.
package params

import (
	"fmt"
	"math/big"
	"strings"
)

// Kind identifies the value type carried by a Param.
type Kind int

const (
	KindInt Kind = iota + 1
	KindBigInt
	KindBytes
	KindUTF8
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBigInt:
		return "bigint"
	case KindBytes:
		return "bytes"
	case KindUTF8:
		return "utf8"
	default:
		return "unknown"
	}
}

// Well-known parameter keys. Key material keys mirror the component names
// of the algorithm families; the last three are the queryable key metrics.
const (
	KeyRSAModulus         = "n"
	KeyRSAExponent        = "e"
	KeyRSAPrivateExponent = "d"
	KeyECGroup            = "group"
	KeyECX                = "x"
	KeyECY                = "y"
	KeyECPrivate          = "priv"
	KeyBits               = "bits"
	KeySecurityBits       = "security-bits"
	KeyMaxSize            = "max-size"
	KeyProviderName       = "name"
)

// Param is a single typed named field. Only the value matching Kind is
// meaningful.
type Param struct {
	Key    string
	Kind   Kind
	Int    int
	BigInt *big.Int
	Bytes  []byte
	UTF8   string
}

// Int builds an integer param.
func Int(key string, v int) Param {
	return Param{Key: key, Kind: KindInt, Int: v}
}

// BigInt builds an arbitrary-precision integer param.
func BigInt(key string, v *big.Int) Param {
	return Param{Key: key, Kind: KindBigInt, BigInt: v}
}

// Bytes builds an octet-string param.
func Bytes(key string, v []byte) Param {
	return Param{Key: key, Kind: KindBytes, Bytes: v}
}

// UTF8 builds a string param.
func UTF8(key string, v string) Param {
	return Param{Key: key, Kind: KindUTF8, UTF8: v}
}

// Params is an ordered parameter list. Responders fill values in place
// through Locate, so a list used for a query must be addressable by the
// caller.
type Params []Param

// Locate returns a pointer to the first param with the given key, or nil.
func (p Params) Locate(key string) *Param {
	for i := range p {
		if p[i].Key == key {
			return &p[i]
		}
	}
	return nil
}

// GetBigInt returns the big-integer value for key, if present and typed so.
func (p Params) GetBigInt(key string) (*big.Int, bool) {
	f := p.Locate(key)
	if f == nil || f.Kind != KindBigInt || f.BigInt == nil {
		return nil, false
	}
	return f.BigInt, true
}

// GetInt returns the integer value for key, if present and typed so.
func (p Params) GetInt(key string) (int, bool) {
	f := p.Locate(key)
	if f == nil || f.Kind != KindInt {
		return 0, false
	}
	return f.Int, true
}

// GetUTF8 returns the string value for key, if present and typed so.
func (p Params) GetUTF8(key string) (string, bool) {
	f := p.Locate(key)
	if f == nil || f.Kind != KindUTF8 {
		return "", false
	}
	return f.UTF8, true
}

// GetBytes returns the octet-string value for key, if present and typed so.
func (p Params) GetBytes(key string) ([]byte, bool) {
	f := p.Locate(key)
	if f == nil || f.Kind != KindBytes {
		return nil, false
	}
	return f.Bytes, true
}

func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for i := range p {
		keys = append(keys, fmt.Sprintf("%s(%s)", p[i].Key, p[i].Kind))
	}
	return "[" + strings.Join(keys, " ") + "]"
}
