// Package events defines task lifecycle events and an in-process
// emitter. The task service publishes an event on every lifecycle
// transition; subscribers (audit logging, notifications, downstream
// triggers) register handlers without the service knowing about them.
package events
