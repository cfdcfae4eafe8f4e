// Package httputil holds the HTTP boundary of the gateway: the JSON error body every
// gateway-generated response uses, boundary rejections, and the outer middleware
// (recovery, access logging, request validation) plus Chain for composing them.
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusTooManyRequests, "")
//	// {"code":429,"message":"Too Many Requests"}
//
// Rejections:
//
//	httputil.WriteRejection(w, httputil.Reject(httputil.RejectMalformedQuery, "bad escape"))
//
// Composition, outermost first:
//
//	handler := httputil.Chain(recovery, logging, auth, rateLimit)(backend)
package httputil
