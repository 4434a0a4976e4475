package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Domain prefixes for content digests. The version suffix allows the
// canonicalization to change without colliding with old digests.
const (
	DomainDeployment = "rsi/deployment/v1"
	DomainEscalation = "rsi/escalation/v1"
	DomainRejection  = "rsi/rejection/v1"
	DomainPolicy     = "rsi/policy/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Canonical returns the RFC 8785 canonical JSON encoding of v.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// Digest hashes the canonical form of v under domain.
func Digest(domain string, v any) (string, error) {
	c, err := Canonical(v)
	if err != nil {
		return "", fmt.Errorf("Digest: %w", err)
	}
	return hashWithDomain(domain, c), nil
}

// DigestBytes hashes raw bytes under domain.
func DigestBytes(domain string, data []byte) string {
	return hashWithDomain(domain, data)
}

// Seal fills in the Digest field of a deployment record. The digest covers
// every other field.
func (r *DeploymentRecord) Seal() error {
	r.Digest = ""
	d, err := Digest(DomainDeployment, r)
	if err != nil {
		return err
	}
	r.Digest = d
	return nil
}

// Seal fills in the Digest field of an escalation record.
func (r *EscalationRecord) Seal() error {
	r.Digest = ""
	d, err := Digest(DomainEscalation, r)
	if err != nil {
		return err
	}
	r.Digest = d
	return nil
}

// Seal fills in the Digest field of a rejection record.
func (r *RejectionRecord) Seal() error {
	r.Digest = ""
	d, err := Digest(DomainRejection, r)
	if err != nil {
		return err
	}
	r.Digest = d
	return nil
}
