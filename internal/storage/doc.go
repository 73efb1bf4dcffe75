// Package storage provides the small persistence layer behind the relay.
//
// It currently supports:
//   - Reply-chain sessions (bot message -> upstream session id) with expiry
//   - The memory backlog awaiting upload, so it survives restarts
//   - Exchange audit appends (one row per relayed message)
package storage
