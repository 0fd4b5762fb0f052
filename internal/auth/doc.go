// Package auth authenticates the API operator.
//
// There is one account, configured under security.admin with an Argon2id
// password hash. A successful login yields a short-lived HS256 JWT that the
// API validates by signature alone; nothing is stored server side.
package auth
