package s7

import "time"

// jobResult is delivered on a job's completion channel exactly once, either
// with a decoded payload or an error (§3 "Job... a completion promise").
type jobResult struct {
	payload any
	err     error
}

// job is an in-flight request on the connection, keyed by PDU reference
// (§3, §4.3). The completion channel is the idiomatic-Go substitute for the
// "completion promise" the data model names, grounded on the
// recvChan-per-exchange pattern of Yobol-go-iec104/client.go.
type job struct {
	ref      uint16
	frame    []byte
	count    int // expected number of read/write items, for parse sizing
	deadline time.Time
	done     chan jobResult
}

func newJob(ref uint16, frame []byte, count int, timeout time.Duration) *job {
	return &job{
		ref:      ref,
		frame:    frame,
		count:    count,
		deadline: time.Now().Add(timeout),
		done:     make(chan jobResult, 1),
	}
}

// pduRefAllocator hands out monotonically increasing, non-zero, wrapping PDU
// references, skipping any still present in the outstanding set (§4.3
// "PDU reference allocation").
type pduRefAllocator struct {
	next uint16
}

func newPDURefAllocator() *pduRefAllocator {
	return &pduRefAllocator{next: 1}
}

// allocate returns the next reference not present in outstanding. outstanding
// must not contain more than 65535 entries (enforced by the connection's
// concurrency window, which is always far smaller).
func (a *pduRefAllocator) allocate(outstanding map[uint16]*job) uint16 {
	for {
		ref := a.next
		a.next++
		if a.next == 0 {
			a.next = 1 // skip 0: reserved by some controllers
		}
		if _, busy := outstanding[ref]; !busy {
			return ref
		}
	}
}
