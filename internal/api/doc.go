// Package api exposes the agent routes over HTTP. Each route maps its body
// onto a task, hands it to the dispatcher and writes the resulting envelope.
package api
