// Package errors defines the OAuth2 error taxonomy shared by every handler.
//
// Services return *Error values for caller-visible failures and plain wrapped
// errors (fmt.Errorf with %w) for infrastructure failures. At the HTTP edge
// Render turns either into a JSON body:
//
//	{"error": "invalid_grant", "error_description": "code expired"}
//
// Client and grant validation failures are 400, missing sessions 401, CSRF
// failures 403, Account Store outages 503 and anything unstructured 500.
package errors
