// Package audit emits write-only audit events for the review and legal-hold
// systems. Delivery is fire-and-forget.
package audit
