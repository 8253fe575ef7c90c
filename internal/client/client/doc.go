// Package client talks to the clipkeeper sync service over HTTP+JSON.
//
// HTTPClient implements the sync endpoints (complete/single reconciliation,
// binary upload and download) and the auth endpoints. Authenticated calls
// carry a bearer token held by a TokenManager. A token whose JWT expiry is
// close is refreshed before the call; a 401 triggers exactly one refresh and
// retry. When the refresh itself fails the stored credentials are cleared,
// the OnAuthExpired hook runs and callers receive common.ErrAuthExpired.
//
// Errors are classified with common.Kind (Network or Http); IsTransient tells
// upload retry logic which failures are worth another attempt.
package client
