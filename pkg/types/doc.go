/*
Package types defines the wire and bookkeeping data model shared by
the Gateway and the Worker: actions, tiers, requests/responses, audit
records, and idempotency rows.

Requests flow Gateway → Worker as Request values serialized to the
action_request wire frame; Worker → Gateway as Response values
serialized to action_response. AuditRecord is the Worker's local JSONL
trail; IdempotencyRecord mirrors the Gateway's action_idempotency
table.
*/
package types
