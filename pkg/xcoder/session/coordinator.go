package session

import "time"

// Admit implements the Session Coordinator's (C10) entry-point admission
// rule: OR the given bit into the state bitmask and return a release
// function the caller defers. If Close is already asserted and the
// keep-alive goroutine has signalled close_thread, Admit sleeps 100us (to
// let the closer make progress) and returns ok=false — the caller should
// short-circuit with success-without-progress per SPEC_FULL.md §4.10.
func (c *Context) Admit(bit StateBit) (release func(), ok bool) {
	c.mu.Lock()
	if c.HasBit(BitClose) && c.keepAliveArgs != nil && c.keepAliveArgs.CloseThread() {
		c.mu.Unlock()
		time.Sleep(100 * time.Microsecond)
		return func() {}, false
	}
	c.SetBit(bit)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		c.ClearBit(bit)
		c.mu.Unlock()
	}, true
}

// RetryUntil is the bounded, mutex-aware retry combinator of SPEC_FULL.md §9
// Design Notes: it repeatedly calls predicate (which itself executes under
// the context mutex having just been acquired) until predicate returns
// true, a non-nil error, or maxIters is exhausted. Between iterations the
// mutex is dropped for sleep and re-acquired, so the keep-alive and close
// paths can make progress — no caller of RetryUntil may hold c.mu across
// the sleep itself.
//
// predicate is invoked with the mutex HELD; it must not itself sleep or
// release the mutex. Returning (true, nil) means success; (false, nil)
// means "not yet, keep retrying"; (_, err) aborts immediately.
func (c *Context) RetryUntil(predicate func() (bool, error), sleep time.Duration, maxIters int) (bool, error) {
	for i := 0; i < maxIters; i++ {
		c.mu.Lock()
		done, err := predicate()
		c.mu.Unlock()
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
		time.Sleep(sleep)
	}
	return false, nil
}
