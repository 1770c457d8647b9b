// Package chatadapter provides reference implementations of the chat
// platform the AI Request Core sends replies back through: an in-memory
// ChatPlatform for tests and local runs, and an optional websocket-backed
// demo transport for manual end-to-end testing. Neither is a Discord
// client; a real deployment supplies its own ChatPlatform.
package chatadapter
