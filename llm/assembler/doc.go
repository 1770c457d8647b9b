// Package assembler implements the Conversation Assembler (C6): the purely
// transformational step that turns a base system prompt, a read-only
// message history, a tool schema list, and the current user message into
// the exact ordered message list a provider client is handed.
//
// Assembler's only I/O is reading recent history through the Storage
// collaborator it is given; persisting the assistant reply is the
// caller's concern, not this package's.
package assembler
