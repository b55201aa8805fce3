package params

import "strings"

// Selection is the bitset selector the host passes to capability queries
// and import calls, indicating which subset of a key an operation concerns.
type Selection uint32

const (
	SelectPrivateKey Selection = 1 << iota
	SelectPublicKey
	SelectKeyPair
	SelectDomainParameters
)

// Has reports whether every bit in want is set.
func (s Selection) Has(want Selection) bool {
	return s&want == want
}

// Private reports whether the private-key subset is selected.
func (s Selection) Private() bool { return s&SelectPrivateKey != 0 }

// Public reports whether the public-key subset is selected.
func (s Selection) Public() bool { return s&SelectPublicKey != 0 }

// KeyPair reports whether key-pair equality is selected.
func (s Selection) KeyPair() bool { return s&SelectKeyPair != 0 }

// DomainParameters reports whether domain-parameter equality is selected.
func (s Selection) DomainParameters() bool { return s&SelectDomainParameters != 0 }

func (s Selection) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	if s.Private() {
		parts = append(parts, "private")
	}
	if s.Public() {
		parts = append(parts, "public")
	}
	if s.KeyPair() {
		parts = append(parts, "keypair")
	}
	if s.DomainParameters() {
		parts = append(parts, "domain-parameters")
	}
	return strings.Join(parts, "|")
}
