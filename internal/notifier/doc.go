// Package notifier delivers the live report to every recipient.
//
// For each recipient the Dispatcher either sends a fresh message (no message
// yet) or edits the previous one in place. An edit whose target is gone falls
// back to exactly one fresh send in the same cycle. Other failures leave the
// recipient's state untouched so the next cycle retries naturally.
//
// Recipients are processed concurrently through a bounded worker pool and an
// optional rate limiter in front of the transport.
package notifier
