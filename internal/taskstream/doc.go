// Package taskstream follows the progress of video generation jobs and
// applies every event to the assistant message bound to the job.
//
// # Overview
//
// A Client runs one goroutine per subscribed message. The goroutine opens a
// Feed from a Source, decodes each payload with ParseEvent, and hands the
// resulting MessagePatch to an Updater (the conversation repository).
// Events on one stream are applied strictly in arrival order.
//
// # Sources
//
//   - HTTPSource: wraps any StreamOpener (the videoapi client) and frames the
//     body as SSE "data:" records or newline-delimited JSON
//   - RedisSource: reads the task:{id} snapshot and follows the stream:{id}
//     pub/sub channel written by the generation worker
//
// # Termination
//
// A completed or failed event closes the stream and records the task id in
// a terminal ledger; later events and later subscriptions for that task are
// ignored. A transport failure (open error, read error, or end of stream
// before a terminal event) marks the message failed and interrupted so it
// can be reconnected. Cancellation through CancelConversation, Close, or the
// subscription context stops a stream without touching the message.
package taskstream
