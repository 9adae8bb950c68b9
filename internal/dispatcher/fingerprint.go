package dispatcher

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

// VolatileParams never take part in the cache fingerprint.
var VolatileParams = []string{"jobId", "enableJobTracking", "_cacheBuster"}

type fingerprintInput struct {
	Type   string        `json:"type"`
	Params domain.Params `json:"params"`
}

// Fingerprint derives the cache key of an export request. encoding/json sorts
// map keys, so the key does not depend on parameter order.
func Fingerprint(exportType string, params domain.Params) (string, error) {
	cleaned := params.Clone()
	for _, key := range VolatileParams {
		delete(cleaned, key)
	}

	raw, err := json.Marshal(fingerprintInput{Type: exportType, Params: cleaned})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", exportType, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
