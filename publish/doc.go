// Package publish drains a broker side's outbound message queue in
// strict FIFO order once connected, retrying the head of the queue on
// publish failure instead of dropping or reordering it.
package publish
