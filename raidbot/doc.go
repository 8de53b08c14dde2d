// Package raidbot implements a Discord bot that manages cooperative raid
// scheduling for a Lost Ark guild.
//
// Each raid lives as a starter message in a schedule channel, with a thread
// attached for discussion. The starter message is the source of truth: every
// thread command re-parses it into structured data, applies the requested
// changes, and re-renders it. Commands are free-form Korean text, expanded
// into structured intents by the OpenAI chat completion API.
//
// Key components:
//
//   - RaidBot: The main struct that encapsulates the bot's core functionality.
//   - Discord: Gateway transport and thread command routing.
//   - IntentExtractor: OpenAI-backed command-to-intent expansion, with a
//     content-hash cache.
//   - Reconciler: Applies intent batches against a parsed schedule.
//   - RaidQueue / RaidQueueManager: Priority queue engine for queue-based
//     slot assignment.
//   - LostarkClient: Lost Ark open-API client for roster collection.
//   - API: Health and status HTTP endpoints.
//
// Thread commands:
//
//   - !추가: add the author to the raid schedule.
//   - !제거: remove the author from the raid schedule.
//   - !수정: edit a round's start time.
//   - !대기 / !대기취소 / !모집: queue-based slot assignment.
package raidbot
