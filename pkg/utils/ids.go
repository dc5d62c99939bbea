package utils

import (
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

const SimulatedInvoicePrefix = "SIMULATED-"

func GenerateUUID7() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

// SimulatedInvoiceID returns an invoice id that is recognisable as locally synthesized.
func SimulatedInvoiceID() string {
	return SimulatedInvoicePrefix + GenerateUUID7()
}

func IsSimulatedInvoiceID(id string) bool {
	return strings.HasPrefix(id, SimulatedInvoicePrefix)
}

// NowMillis is the store's timestamp unit.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// DeterminePublishCount mimics at-least-once delivery: mostly once,
// sometimes twice, occasionally three times.
func DeterminePublishCount() int {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	chance := r.Intn(100)

	if chance < 70 {
		return 1
	} else if chance < 90 {
		return 2
	} else {
		return 3
	}
}
