package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateClientID returns prefix + epoch millis + "_" + 8 random hex characters
func GenerateClientID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	return fmt.Sprintf("%s%d_%s", prefix, time.Now().UnixMilli(), suffix)
}
