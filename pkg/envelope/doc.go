// Package envelope signs and verifies tamper-evident, expiring payloads.
//
// A signed string is base64url (no padding) of "<hex hmac-sha256>@<payload>", where payload
// is itself base64url of the JSON document. The format is transport safe for headers and
// query strings and carries no secret material.
//
// Two layers are provided. Signer.Sign and Signer.Verify protect any JSON-serializable value.
// Seal and Open wrap the value in an Envelope that also records when it was signed, how long
// it lives, a random nonce and a unique id.
package envelope
