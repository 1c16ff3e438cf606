package job

import "errors"

// MaxBatchSize bounds BatchGet requests.
const MaxBatchSize = 100

var (
	ErrDuplicateKey     = errors.New("job already exists")
	ErrStoreUnavailable = errors.New("job store unavailable")
	ErrBatchTooLarge    = errors.New("too many job ids in one batch")
	ErrInvalidRequest   = errors.New("invalid job request")
	ErrQueueUnavailable = errors.New("job queue not configured")
	ErrDeliveryFailed   = errors.New("job message delivery failed")
)

// dedupe drops repeated ids while keeping the first occurrence order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func checkBatch(ids []string) ([]string, error) {
	ids = dedupe(ids)
	if len(ids) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	return ids, nil
}
