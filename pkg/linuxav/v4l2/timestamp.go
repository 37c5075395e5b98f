package v4l2

import "time"

// bufferTime converts a dequeued buffer's timestamp to wall-clock time.
// stamp is the kernel timeval as a duration. monoNow and now are
// CLOCK_MONOTONIC and wall-clock readings taken together at dequeue.
//
// Monotonic stamps are placed on the wall clock by their age. Stamps of
// unknown type are taken as wall-clock time. Copied stamps carry no capture
// time and, like unset ones, give the zero time.
func bufferTime(flags uint32, stamp, monoNow time.Duration, now time.Time) time.Time {
	if stamp == 0 {
		return time.Time{}
	}
	switch flags & BufFlagTimestampMask {
	case BufFlagTimestampMonotonic:
		return now.Add(-max(monoNow-stamp, 0))
	case BufFlagTimestampUnknown:
		return time.Unix(0, int64(stamp))
	default:
		return time.Time{}
	}
}
