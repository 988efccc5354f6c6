// Package fhir provides the HTTP client for a FHIR R4 REST server.
//
// The Client implements driven.FHIRClient, the optional TextSearcher and
// ResourceSearcher capabilities, and driven.Prober. Requests are
// authenticated with the OAuth2 client-credentials grant when credentials
// are configured, and throttled by a token bucket that also honours
// Retry-After on 429 responses.
//
// Failures reported by the server are returned as *domain.StatusError,
// with the message taken from the OperationOutcome body when present.
package fhir
