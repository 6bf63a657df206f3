// Package cd4pe is the agent's client for the CD4PE AJAX API.
//
// Every call goes through Client.Send, which issues one authenticated HTTP
// request and applies a small, fixed retry policy:
//   - Up to 3 attempts per logical request
//   - HTTP 5xx → wait 3s and retry; the third 5xx surfaces as *ServerExhaustedError
//   - Transport failure (host unreachable) → *ConnectionError, never retried
//   - 2xx, 3xx and 4xx → returned as-is
//
// A 4xx response is not an error at this layer. Each caller decides whether
// "not found" is fatal for the operation it made.
//
// Operations are typed values (PinNodesToGroup, DeployCode, ...) that encode
// themselves either as a POST body {"op": ..., "content": {...}} or as a GET
// query string ?op=...&deploymentId=....
package cd4pe
