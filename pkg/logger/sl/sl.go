// Package sl holds slog attribute helpers shared across packages.
package sl

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/exp/slog"
)

func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

func String(key string, value string) slog.Attr {
	return slog.Attr{
		Key:   key,
		Value: slog.StringValue(value),
	}
}

func Any(key string, value interface{}) slog.Attr {
	return slog.Attr{
		Key:   key,
		Value: slog.AnyValue(value),
	}
}

// Address logs an account in checksummed hex.
func Address(key string, addr common.Address) slog.Attr {
	return String(key, addr.Hex())
}

// Big logs a uint256 quantity in decimal; nil is logged as "<nil>".
func Big(key string, v *big.Int) slog.Attr {
	if v == nil {
		return String(key, "<nil>")
	}
	return String(key, v.String())
}
