package embedstore

import "time"

// SetClock replaces the time source used for document timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
