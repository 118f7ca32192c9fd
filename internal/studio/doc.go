// Package studio is the entry point a user interface drives: it ties the
// conversation repository, the video service, and the progress streams
// together.
//
// # Sending a message
//
// SendMessage appends the user's message and a pending assistant
// placeholder, submits the prompt as a generation job, and then either
// binds the returned task id and starts following its progress, or marks
// the placeholder failed with the service's explanation. A placeholder is
// never left pending after a failed submission.
//
// # Resuming
//
// After the state is restored from storage, ResumePending reattaches a
// stream to every assistant message still waiting on a job, including those
// whose previous stream broke. Reconnect does the same for one message.
//
// # Lifecycle
//
// DeleteConversation stops the conversation's streams before removing it.
// Close stops every stream, then closes the repository and any resources
// registered with OnClose.
package studio
