// Package pagination fetches a catalog listing of a requested size as a set
// of concurrent page requests joined into one result.
//
// The listing is split into pages of at most MaxPageSize records. Every page
// is requested concurrently and appends its records to a Session under the
// session lock before decrementing the outstanding-page counter, so a reader
// that observes completion always sees the full buffer.
//
// Example usage:
//
//	coord := pagination.NewCoordinator(picsumClient, pagination.DefaultConfig())
//	session := coord.FetchList(ctx, 250)
//	records, err := session.Wait(ctx)
//
// A session always completes:
//   - a failed page is recorded in a *FetchError and still counts down
//   - a session that is still open after JoinTimeout completes with ErrStall
//   - a new FetchList on the same Coordinator supersedes the previous session
//     with ErrSuperseded
//
// Records are returned in page completion order.
package pagination
