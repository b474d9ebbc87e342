package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Herald/internal/obs/retry"
)

// JSONHandler decodes each message into a fresh M. Undecodable payloads are
// returned as permanent errors.
func JSONHandler[M any](handle func(context.Context, []byte, *M) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		msg := new(M)
		if err := json.Unmarshal(value, msg); err != nil {
			return retry.Permanent(fmt.Errorf("decode message: %w", err))
		}
		return handle(ctx, key, msg)
	}
}
