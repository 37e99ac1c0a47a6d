// Package app provides the application service layer.
//
// Dispatcher turns stream events into notification messages, Sweeper reaps stale notification records,
// Service backs follow/unfollow/settings commands. Depends on domain interfaces, not concrete implementations.
package app
