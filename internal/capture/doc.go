// Package capture records business mutations as change records and hands
// them to the job dispatch boundary.
//
// Capture runs inside the request that made the mutation. It persists the
// record in the source collection's log collection, then enqueues a
// DataSync job and returns without waiting for synchronization. A persist
// failure is returned to the caller (wrapping ErrPersist); a dispatch
// failure leaves the stored record in place and is reported with
// ErrDispatch so the record can be replayed.
package capture
