// Package jwt signs and verifies staged tokens: short-lived JWTs that prove a
// subject passed OTP verification for one purpose. Each token carries a jti
// that the engine mirrors in Redis to make the token single-use.
package jwt
