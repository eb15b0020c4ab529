// Package commandbuffer provides the single-consumer FIFO of closures
// that backs each broker side (platform, device). Producers call Push;
// the dedicated consumer goroutine runs them sequentially, so services
// bound to one side can treat their own state as single-threaded.
package commandbuffer
