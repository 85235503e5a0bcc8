package device

import (
	"context"
	"encoding/json"

	"github.com/jangala-dev/inu/bus"
)

func publishJSON(ctx context.Context, a bus.Adapter, subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.Publish(ctx, subject, b)
}
