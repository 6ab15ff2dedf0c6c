// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing conversations, tool calls and
// stream fixtures, and when draining streamed responses. They are not
// intended for production usage.
package testutil
