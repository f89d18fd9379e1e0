package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
)

// liveStatesSQL is the SQL predicate for assignments that count toward headcount.
const liveStatesSQL = `('PENDING', 'ACCEPTED')`

// pairHeldSQL matches rows that block their (slot, instructor) pair. It must stay
// identical to the predicate of uq_assignments_held_pair.
const pairHeldSQL = `state <> 'CANCELED'`

type base struct {
	db *sqlx.DB
}

func (b base) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return b.db
}

func rowsAffected(result sql.Result, what string) (int64, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check %s rows: %w", what, err)
	}
	return affected, nil
}

// AcquireAdvisoryLocks takes transaction scoped advisory locks for the given keys.
// Keys are de-duplicated and sorted so concurrent writers lock in the same order.
func AcquireAdvisoryLocks(ctx context.Context, exec sqlx.ExtContext, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	const query = `SELECT pg_advisory_xact_lock(hashtext($1))`
	for _, key := range ordered {
		if _, err := exec.ExecContext(ctx, query, key); err != nil {
			return fmt.Errorf("acquire advisory lock %s: %w", key, err)
		}
	}
	return nil
}
