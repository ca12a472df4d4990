package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RunStatusKey(runID uuid.UUID) string {
	return fmt.Sprintf("run:%s", runID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
