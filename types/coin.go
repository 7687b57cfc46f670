package types

import (
	"fmt"
	"strings"

	"github.com/fardream/go-bcs/bcs"
)

// SuiCoinType is the fully-qualified type of the native gas coin.
const SuiCoinType = "0x0000000000000000000000000000000000000000000000000000000000000002::coin::Coin<0x0000000000000000000000000000000000000000000000000000000000000002::sui::SUI>"

// coinLayout mirrors the BCS layout of 0x2::coin::Coin<T>: a UID (32-byte
// id) followed by a Balance (u64).
type coinLayout struct {
	ID      Address
	Balance uint64
}

// IsCoinType reports whether the type tag denotes a 0x2::coin::Coin
// instantiation, in either canonical or short address form.
func IsCoinType(typeTag string) bool {
	return strings.Contains(typeTag, "::coin::Coin<") &&
		(strings.HasPrefix(typeTag, "0x2::") || strings.HasPrefix(typeTag, "0x0000000000000000000000000000000000000000000000000000000000000002::"))
}

// CoinBalance decodes the balance of a coin object's BCS contents.
func CoinBalance(bcsBytes []byte) (uint64, error) {
	var c coinLayout
	if _, err := bcs.Unmarshal(bcsBytes, &c); err != nil {
		return 0, &DecodeError{What: "coin", Err: err}
	}
	return c.Balance, nil
}

// EncodeCoin produces the BCS contents of a coin object with the given id
// and balance.
func EncodeCoin(id Address, balance uint64) ([]byte, error) {
	return bcs.Marshal(&coinLayout{ID: id, Balance: balance})
}

// SetCoinBalance rewrites the balance of a coin's BCS contents in place,
// returning the new encoding.
func SetCoinBalance(bcsBytes []byte, balance uint64) ([]byte, error) {
	var c coinLayout
	if _, err := bcs.Unmarshal(bcsBytes, &c); err != nil {
		return nil, &DecodeError{What: "coin", Err: err}
	}
	c.Balance = balance
	return bcs.Marshal(&c)
}

// CoinTypeParam extracts T from 0x2::coin::Coin<T>, or returns an error when
// the tag is not a coin instantiation.
func CoinTypeParam(typeTag string) (string, error) {
	open := strings.Index(typeTag, "<")
	if open < 0 || !strings.HasSuffix(typeTag, ">") || !IsCoinType(typeTag) {
		return "", fmt.Errorf("not a coin type: %q", typeTag)
	}
	return typeTag[open+1 : len(typeTag)-1], nil
}
