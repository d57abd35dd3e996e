package publish

import (
	"context"
	"errors"
)

// Multi broadcasts to every non-nil broadcaster and joins their errors.
type Multi []Broadcaster

func (m Multi) Broadcast(ctx context.Context, ev Event) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Broadcast(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
