// Package auth stores API tokens for dlqueue daemons. Tokens live in the
// system keychain when one is available, otherwise in an encrypted file in
// the user config directory. DLQUEUE_API_TOKEN is consulted last.
package auth
