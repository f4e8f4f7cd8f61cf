package docstore

// Offer delivers v without blocking. When the subscriber has not drained the
// previous value it is dropped in favour of v, so a slow reader always catches
// up to the latest state. Callers must be the only sender on ch.
func Offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
