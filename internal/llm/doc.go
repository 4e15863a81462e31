// Package llm defines the provider-neutral contract the dispatcher uses to
// reach a large language model. Provider adapters live in subpackages.
package llm
