// Package backend defines the contract between the provider and the
// external collaborator that owns externally-backed private keys. The
// provider core never signs; it only carries the opaque handle that a
// Signer resolves.
package backend

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownHandle = errors.New("backend: unknown key handle")

// Signer produces a signature over a digest for the key identified by an
// opaque handle. Implementations may block on hardware or remote calls;
// ctx carries the caller's cancellation.
type Signer interface {
	Sign(ctx context.Context, handle any, digest []byte, algorithm string) ([]byte, error)
}

// SoftwareSigner is a software-only Signer for development and testing.
// Real deployments delegate to a smartcard, HSM, or agent instead.
type SoftwareSigner struct {
	mu   sync.RWMutex
	keys map[string]crypto.Signer
}

func NewSoftwareSigner() *SoftwareSigner {
	return &SoftwareSigner{keys: make(map[string]crypto.Signer)}
}

// Add registers a native signer under a handle token.
func (s *SoftwareSigner) Add(token string, key crypto.Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[token] = key
}

// Sign signs a SHA-256 digest with the key behind the handle. The handle
// must be a token previously registered with Add.
func (s *SoftwareSigner) Sign(ctx context.Context, handle any, digest []byte, algorithm string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token, ok := handle.(string)
	if !ok {
		return nil, fmt.Errorf("%w: handle is %T, want string token", ErrUnknownHandle, handle)
	}

	s.mu.RLock()
	key, ok := s.keys[token]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandle, token)
	}

	switch algorithm {
	case "RSA":
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("backend: handle %q is not an RSA key", token)
		}
		sig, err := rsa.SignPKCS1v15(rand.Reader, rsaKey, crypto.SHA256, digest)
		if err != nil {
			return nil, fmt.Errorf("backend: rsa sign: %w", err)
		}
		return sig, nil
	case "EC":
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("backend: handle %q is not an EC key", token)
		}
		sig, err := ecdsa.SignASN1(rand.Reader, ecKey, digest)
		if err != nil {
			return nil, fmt.Errorf("backend: ecdsa sign: %w", err)
		}
		return sig, nil
	default:
		return nil, fmt.Errorf("backend: unsupported algorithm %q", algorithm)
	}
}
