// Package api contains the public types shared by the relay runtime:
// workflow definitions and run results, the retry policy and error
// taxonomy, durable store interfaces, message drafts, and the observer
// callbacks used for logging and metrics.
//
// Most users import the root relay package, which re-exports everything
// here, and only reach into api when writing their own store or sender
// implementations.
package api
