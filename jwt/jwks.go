package jwt

import (
	"crypto/rsa"
	"sort"

	jose "github.com/go-jose/go-jose/v4"
)

// JWKS returns the public verification keys as a JSON Web Key Set. Keys
// without a kid are published under an empty kid.
func (m *Manager) JWKS() jose.JSONWebKeySet {
	set := jose.JSONWebKeySet{}
	kids := make([]string, 0, len(m.verifyKeys))
	for kid := range m.verifyKeys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	for _, kid := range kids {
		set.Keys = append(set.Keys, publicJWK(kid, m.verifyKeys[kid]))
	}
	if len(set.Keys) == 0 && m.verifyKey != nil {
		set.Keys = append(set.Keys, publicJWK("", m.verifyKey))
	}
	return set
}

func publicJWK(kid string, key *rsa.PublicKey) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       key,
		KeyID:     kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}
