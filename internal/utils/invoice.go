package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const orderIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateOrderID returns a human readable id: ORD-YYYYMMDD-XXXXXX.
func GenerateOrderID(now time.Time) string {
	suffix := make([]byte, 6)
	max := big.NewInt(int64(len(orderIDAlphabet)))

	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// fallback: time-based entropy
			n = big.NewInt((now.UnixNano() >> (i * 5)) % int64(len(orderIDAlphabet)))
		}
		suffix[i] = orderIDAlphabet[n.Int64()]
	}

	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}
