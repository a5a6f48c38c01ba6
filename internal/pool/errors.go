package pool

import "errors"

// ErrNotFound is returned by FreePool when the given address was not
// allocated by this registry, mirroring EFI_NOT_FOUND from the
// reference implementation's memory_type mismatch check in free_pool.
var ErrNotFound = errors.New("pool: address not found")
