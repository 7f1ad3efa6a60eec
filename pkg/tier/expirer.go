package tier

import "context"

// Expirer is implemented by tiers that keep natively expired records on
// disk until asked to drop them. Sweeps call DeleteExpired before walking
// the remaining keys.
type Expirer interface {
	DeleteExpired(ctx context.Context, prefix string) (int, error)
}
