package storage

import "errors"

var ErrNotFound = errors.New("document not found in storage")
var ErrAlreadyExists = errors.New("document with the same id already exists")
var ErrConflict = errors.New("document was modified by a concurrent write")
var ErrCollectionMissing = errors.New("collection has never been created")
