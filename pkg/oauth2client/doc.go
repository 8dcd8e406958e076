// Package oauth2client holds the read-only registry of pre-provisioned OAuth2
// clients. Clients come from a YAML file (LoadFile) or the environment
// (LoadEnv); secrets are bcrypt hashed when the registry is built and the
// registry is never modified afterwards.
package oauth2client
