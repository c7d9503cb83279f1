package errors

// WrapOpComponent wraps err with a consistent Op and Component.
// If err is nil, returns nil. An err that already is a *SyncError keeps its
// code and is wrapped so the outer frame records where it surfaced.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return NewWithComponent(op, component, err)
}

// WrapStore wraps a persistence error for collection, or returns nil.
func WrapStore(err error, op Operation, collection string) error {
	if err == nil {
		return nil
	}
	return NewStoreError(op, collection, err)
}
