package events

import (
	"math/big"
	"strconv"

	"apxpool/crypto"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatAddress(raw [20]byte) string {
	return crypto.AddressFromRaw(raw).String()
}
