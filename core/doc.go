// Package core provides the foundational domain types used by agentloop. It
// defines the core abstractions for:
//
//   - Messages and content blocks (closed sum types for the conversation)
//   - Events (the lifecycle records streamed to run consumers)
//   - Stream (the queue-backed producer/consumer primitive every run and
//     provider response is delivered through)
//   - MessageQueue (externally injectable steering / follow-up queues)
//
// The package intentionally keeps implementation concerns (provider
// adapters, engine orchestration, tool execution) out of scope, exposing
// small types so higher layers stay provider-agnostic.
package core
