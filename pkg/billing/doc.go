// Package billing applies subscription events pushed by the billing provider.
//
// The provider posts signed events to the webhook handler. Each event is
// verified with HMAC-SHA256 over "<timestamp>.<body>", rejected when the
// timestamp is outside the tolerance window, and then mapped to a tenant
// directory call:
//
//	subscription.created, subscription.updated  -> UpdateSubscription
//	subscription.deleted                        -> UpdateSubscription (free tier)
//	invoice.payment_failed                      -> SuspendTenant
//	invoice.paid                                -> ReactivateTenant
//
// The directory applies each event id at most once, so provider retries are
// safe. Unknown event types are acknowledged and ignored.
package billing
