// Package password hashes account passwords with Argon2id.
//
// Finalizers use it when a staged registration or password reset is
// consumed: the new password travels in the staged payload and is hashed
// only at that point. Hashes use the PHC string format
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// and [Argon2.NeedsUpgrade] reports hashes made with weaker parameters.
// The package never stores or logs passwords.
package password
