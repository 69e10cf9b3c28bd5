package ledger

import (
	"fmt"
	"strings"
)

// AccountScope represents the top-level custody namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeMarket
	AccountScopeVault
	AccountScopeExternal
)

func (s AccountScope) String() string {
	switch s {
	case AccountScopeUser:
		return "user"
	case AccountScopeMarket:
		return "market"
	case AccountScopeVault:
		return "vault"
	case AccountScopeExternal:
		return "external"
	}
	return "unknown"
}

// AccountKey identifies a holder of token custody. Market accounts hold every
// token a market owns; the order vault holds collateral and execution fees of
// pending orders; external accounts are the boundary to the outside world.
type AccountKey struct {
	Scope AccountScope
	ID    string
}

func UserAccount(address string) AccountKey {
	return AccountKey{Scope: AccountScopeUser, ID: address}
}

func MarketAccount(marketToken string) AccountKey {
	return AccountKey{Scope: AccountScopeMarket, ID: marketToken}
}

// OrderVault is the single vault holding pending order funds.
func OrderVault() AccountKey {
	return AccountKey{Scope: AccountScopeVault, ID: "orders"}
}

func ExternalAccount(name string) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, ID: name}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	return k.Scope.String() + ":" + k.ID
}

func (k AccountKey) String() string { return k.AccountPath() }

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	scope, id, ok := strings.Cut(path, ":")
	if !ok || id == "" {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}
	switch scope {
	case "user":
		return UserAccount(id), nil
	case "market":
		return MarketAccount(id), nil
	case "vault":
		return AccountKey{Scope: AccountScopeVault, ID: id}, nil
	case "external":
		return ExternalAccount(id), nil
	}
	return AccountKey{}, fmt.Errorf("unknown account scope %q", scope)
}
