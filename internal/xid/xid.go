package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// Invoice formats the operator-facing invoice number for a sequence value.
func Invoice(seq int64) string {
	return fmt.Sprintf("INV-%06d", seq)
}
