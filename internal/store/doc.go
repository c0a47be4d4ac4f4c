// Package store persists users, life contexts, Telegram connections,
// proactive messages and channel-originated chat history.
package store
