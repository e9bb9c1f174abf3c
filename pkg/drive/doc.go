// Package drive is the client for Deta Drive, the file store.
//
// Push sends payloads up to SingleRequestUploadSize in one request. Larger
// payloads go through a multi-part upload session: interior parts are sent
// concurrently and the final slice completes the session. If any part fails
// the session is aborted and the file is never finalized.
package drive
