// Package notify creates notification records addressed to one or
// more recipients, tracks per-recipient read state, and optionally
// fans out rendered messages over an external transport.
//
// Fan-out is best effort and per recipient: every recipient's delivery
// is attempted independently, failures are logged and reported in the
// returned outcome list, and no failure aborts the batch or the
// creation of the notification itself.
package notify
