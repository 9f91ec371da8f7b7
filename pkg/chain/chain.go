// Package chain implements CAIP-2 chain identifiers.
package chain

import (
	"fmt"
	"regexp"
	"strconv"
)

// ID is a validated CAIP-2 chain identifier, e.g. "eip155:1".
type ID string

var (
	namespaceRe = regexp.MustCompile(`^[a-z0-9]{3,8}$`)
	referenceRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	base58Re    = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32}$`)

	solanaWellKnown = map[string]bool{
		"mainnet": true,
		"testnet": true,
		"devnet":  true,
	}
	aztecWellKnown = map[string]bool{
		"mainnet": true,
		"testnet": true,
		"sandbox": true,
	}
)

// Parse validates s as a CAIP-2 identifier and returns it as an ID.
// Namespaces the core understands (eip155, solana, aztec) get extra
// reference validation; unknown namespaces only pass the generic format
// check.
func Parse(s string) (ID, error) {
	namespace, reference, err := split(s)
	if err != nil {
		return "", err
	}
	if !namespaceRe.MatchString(namespace) {
		return "", fmt.Errorf("chain: invalid namespace %q: must be 3-8 lowercase alphanumerics", namespace)
	}
	if !referenceRe.MatchString(reference) {
		return "", fmt.Errorf("chain: invalid reference %q: must be 1-64 chars from [A-Za-z0-9_-]", reference)
	}

	switch namespace {
	case "eip155":
		if err := validatePositiveDecimal(reference); err != nil {
			return "", fmt.Errorf("chain: eip155 reference %q: %w", reference, err)
		}
	case "solana":
		if !solanaWellKnown[reference] && !base58Re.MatchString(reference) {
			return "", fmt.Errorf("chain: solana reference %q: must be a well-known network name or a 32-char base58 hash", reference)
		}
	case "aztec":
		if !aztecWellKnown[reference] {
			if err := validatePositiveDecimal(reference); err != nil {
				return "", fmt.Errorf("chain: aztec reference %q: must be a well-known network name or a decimal integer", reference)
			}
		}
	}

	return ID(namespace + ":" + reference), nil
}

func split(s string) (namespace, reference string, err error) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("chain: %q is not in namespace:reference form", s)
}

func validatePositiveDecimal(s string) error {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("not a decimal integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

// Namespace returns the namespace portion of the chain id.
func (id ID) Namespace() string {
	ns, _, _ := split(string(id))
	return ns
}

// Reference returns the reference portion of the chain id.
func (id ID) Reference() string {
	_, ref, _ := split(string(id))
	return ref
}

func (id ID) String() string {
	return string(id)
}
