package utils

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"strings"
)

const CorrelationHeader = "X-Correlation-ID"

const correlationCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func GenerateCorrelationID() string {
	result := make([]byte, 6)

	for i := range result {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(correlationCharset))))
		if err != nil {
			idx = big.NewInt(int64(i * 17 % len(correlationCharset)))
		}
		result[i] = correlationCharset[idx.Int64()]
	}

	return string(result)
}

// CorrelationID returns the caller supplied correlation id, or a fresh one.
func CorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(CorrelationHeader)); id != "" {
		return id
	}
	return GenerateCorrelationID()
}
