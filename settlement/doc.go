// Package settlement talks to the external payment rail. The rail is
// treated as an at-least-once-callable, eventually consistent oracle:
// transient failures are retried with bounded backoff, definitive rejections
// are final. The package only submits and queries what it is handed; it
// never builds transactions.
package settlement
