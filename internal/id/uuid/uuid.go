// Package uuid derives deterministic store identifiers from business keys.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Deriver maps business keys to name-based (v5, SHA-1) UUIDs inside a
// fixed namespace. The same namespace and key always yield the same id.
type Deriver struct {
	namespace uuid.UUID
}

// New builds a Deriver whose namespace UUID is itself derived from name,
// so deployments can pick a readable namespace such as the collection name.
func New(name string) *Deriver {
	return &Deriver{namespace: NamespaceFor(name)}
}

// NewWithNamespace builds a Deriver from an explicit namespace UUID string.
func NewWithNamespace(ns string) (*Deriver, error) {
	parsed, err := uuid.Parse(ns)
	if err != nil {
		return nil, fmt.Errorf("parse namespace uuid: %w", err)
	}
	return &Deriver{namespace: parsed}, nil
}

// NamespaceFor returns the namespace UUID used for a readable name.
func NamespaceFor(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name))
}

// Derive returns the store id for businessKey.
func (d *Deriver) Derive(businessKey string) string {
	return uuid.NewSHA1(d.namespace, []byte(businessKey)).String()
}

// Namespace exposes the namespace UUID.
func (d *Deriver) Namespace() string {
	return d.namespace.String()
}

// DeriveID is the stateless form of Deriver.Derive.
func DeriveID(namespace, businessKey string) string {
	return New(namespace).Derive(businessKey)
}
