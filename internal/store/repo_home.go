package store

import "context"

// ListHomeIDs backs the periodic Automation Deployment Controller
// reconciliation sweep (§5): every home's desired/applied convergence
// is re-checked on a timer, not just on rule edits and hub reconnects.
func (r *Repo) ListHomeIDs(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&Home{}).Pluck("id", &ids).Error
	return ids, err
}
