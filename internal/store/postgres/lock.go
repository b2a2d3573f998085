package postgres

import (
	"context"
	"errors"
	"fmt"
)

// instanceLockKey is the advisory lock key held by a running control plane.
const instanceLockKey int64 = 0x73656e74696e6c // "sentinl"

// ErrInstanceLocked is returned when another control plane already holds
// the store. Running several instances against one store is unsupported.
var ErrInstanceLocked = errors.New("another sentinel instance holds the store lock")

// AcquireInstanceLock takes a session-level advisory lock on a dedicated
// connection. The lock lives until Close.
func (s *PostgresStore) AcquireInstanceLock(ctx context.Context) error {
	if s.lockConn != nil {
		return nil
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, instanceLockKey).Scan(&ok); err != nil {
		conn.Close()
		return fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Close()
		return ErrInstanceLocked
	}
	s.lockConn = conn
	return nil
}
