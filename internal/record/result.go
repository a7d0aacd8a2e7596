package record

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/tensorplex-labs/affine/pkg/signature"
)

var (
	ErrUnsigned     = errors.New("result is not signed")
	ErrBadSignature = errors.New("result signature does not verify")
)

// Sign attaches the signer's signature over the challenge's canonical string.
func (r *Result) Sign(signer signature.Signer) error {
	msg, err := r.Challenge.CanonicalString()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return fmt.Errorf("sign result: %w", err)
	}
	if r.Version == "" {
		r.Version = SchemaVersion
	}
	r.SignerIdentity = signer.Address()
	r.Signature = sig
	return nil
}

// Verify reports whether the signature matches SignerIdentity over the challenge.
func (r *Result) Verify() bool {
	return r.verify() == nil
}

func (r *Result) verify() error {
	if r.Signature == "" || r.SignerIdentity == "" {
		return ErrUnsigned
	}
	msg, err := r.Challenge.CanonicalString()
	if err != nil {
		return err
	}
	ok, err := signature.Verify(msg, r.Signature, r.SignerIdentity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}

// ParseVerified decodes one ledger entry and checks its signature.
// Any failure is returned as an error so callers can count and skip it.
func ParseVerified(line []byte) (*Result, error) {
	var r Result
	if err := sonic.Unmarshal(line, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if err := r.verify(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Text returns the response body or an empty string.
func (r *Response) Text() string {
	if r.Response == nil {
		return ""
	}
	return *r.Response
}

// ErrorText returns the error text or an empty string.
func (r *Response) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}
