// Package httputil provides HTTP handler utilities: JSON responses, request
// decoding with struct validation, and the mapping from the tenancy error
// taxonomy to status codes.
//
// Error responses carry tenancy.PublicMessage text only. Forbidden and
// NotFound both answer 403 "not authorized", so probing another tenant's ids
// reveals nothing. An ambiguous tenant answers 409 with the candidate list.
package httputil
