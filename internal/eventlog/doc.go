// Package eventlog persists a rolling log of link-level events —
// resets, reception errors, NACKs and state indications — to a local
// SQLite database, for postmortem diagnostics. It does not store
// com-object values; the com-object table remains the only record of
// current state.
package eventlog
