// Package verifier confirms arm and disarm commands against the cloud.
//
// A command pauses the routine poll, publishes a pending marker, then re-reads
// the status on a short interval until the cloud reports the target state or
// the attempt and time bounds run out. Whatever the cloud last reported is
// published before the poll resumes, so the exposed state never flips back to
// a value fetched before the command took effect.
package verifier
