// Package retry makes a streaming model call resilient to recoverable mistakes.
//
// A stream signals that it wants another attempt by failing with a *Signal.
// The Policy then feeds the Signal's correction back into the conversation,
// waits an exponential backoff delay and tries again, up to MaxRetries times.
// Each attempt runs under its own timeout derived from the caller's context,
// so a slow attempt can be retried while caller cancellation still ends
// everything.
package retry
