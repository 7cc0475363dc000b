// Package chat holds the persistence layer for conversation trees: the
// Chat row owning each tree and the ChatNode arena rows. Repos expose
// atomic primitives only; multi-step tree mutations are composed into
// single transactions by the chat service.
package chat
