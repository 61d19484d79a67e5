// Package auth implements bearer-token verification for the control API.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (public
// key PEM). A token carries a subject and a list of scopes; read
// endpoints need the read scope, anything that touches the bus or the
// transmitters needs control.
package auth
