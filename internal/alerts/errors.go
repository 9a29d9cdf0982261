package alerts

import "errors"

// Sentinel error kinds per the ingest error-handling policy: InputMalformed
// alerts are skipped with a warning, ReferentialMiss ops are skipped but the
// alert still ingests, StoreTransient rolls back the whole snapshot.
var (
	ErrInputMalformed = errors.New("alerts: malformed input")
	ErrReferentialMiss = errors.New("alerts: referential miss")
	ErrStoreTransient  = errors.New("alerts: transient store error")
)
