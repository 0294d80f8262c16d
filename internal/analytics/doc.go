// Package analytics records anonymized usage events for advertising-partner
// reporting. An event carries the set of service categories used, the claim
// total, and an hour-coarse timestamp; raw visit counts and claimant details
// never enter an event. Storage is pluggable behind the Sink interface with
// file, SQLite, PostgreSQL, and in-memory backends.
package analytics
