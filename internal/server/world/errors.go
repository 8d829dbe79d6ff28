package world

import "errors"

var (
	// ErrInvalidArgument reports a rejected input; nothing was modified.
	ErrInvalidArgument = errors.New("world: invalid argument")
	// ErrKeySpaceExhausted reports that a chunk cannot hold another distinct
	// room even at the widest key width.
	ErrKeySpaceExhausted = errors.New("world: chunk key space exhausted")
	// ErrChunkNotLoaded reports a block operation on a chunk whose region is
	// not resident.
	ErrChunkNotLoaded = errors.New("world: chunk not loaded")
	// ErrNoIndex reports a room lookup on a world without a room index.
	ErrNoIndex = errors.New("world: no room index configured")
)
