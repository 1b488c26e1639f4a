// Package driveops is the upload engine: access-token caching, remote folder
// creation, and resumable chunked uploads.
//
// TokenCache is the single owner of the current access token. It implements
// graph.TokenSource and serializes refreshes so that concurrent callers
// trigger at most one TokenProvider call.
//
// FolderManager creates the per-unit remote folder. ChunkedUploader opens an
// upload session inside it and streams a local file in ordered chunks, each
// response judged by a ResponseClassifier. Sessions follow a small state
// machine (see State) so that completion, failure and cancellation are
// terminal and explicit. With VerifyContent set, a completed file is checked
// against the QuickXorHash the drive reports.
//
// ProgressDispatcher and BandwidthLimiter are the shared plumbing used by
// concurrent uploads.
package driveops
