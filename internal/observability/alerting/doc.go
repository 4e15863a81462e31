// Package alerting forwards severe task failures to operators.
package alerting
