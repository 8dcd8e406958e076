// Package wellknown serves the RFC 8414 authorization server metadata
// document at /.well-known/oauth-authorization-server so clients can
// discover the token and introspection endpoints.
package wellknown
