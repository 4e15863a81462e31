// Package dispatch turns agent tasks into model calls. It assigns task ids,
// renders prompts, classifies failures and always answers with an envelope.
package dispatch
