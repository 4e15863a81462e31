// Package task holds the task model shared by the routes and the dispatcher:
// route profiles and their defaults, the result envelopes, and the prompt
// sent upstream.
package task
