// Package videoapi is the HTTP client for the video generation service.
//
// Two calls are used:
//
//   - SubmitJob: POST {base}/video/generate with the prompt, returning the task id
//   - OpenStream: GET {base}/video/stream/{task_id}, returning the raw event body
//
// Non-2xx responses become an *APIError. The service reports failures in a
// FastAPI-style "detail" field, which may be a string or a list of
// validation errors; both are reduced to a single readable Detail.
//
// Submission is bounded by Options.SubmitTimeout. Streams have no client
// deadline: a job may stay in progress for as long as the service says so.
package videoapi
