package store

import "time"

// ReservationJanitor is implemented by stores that can drop idempotency
// reservations abandoned by requests that never finished.
type ReservationJanitor interface {
	CleanUpStaleReservations(maxAge time.Duration) int
}
