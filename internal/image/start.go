package image

import (
	"runtime"

	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/protocoldb"
)

// StartImage implements StartImage: it runs the image's registered entry
// point on its own goroutine and blocks on an unbuffered channel until
// that goroutine calls Exit (explicitly, or implicitly via a normal
// return from the entry point) — the Go-idiomatic rendering of the
// original's private-stack coroutine, per SPEC_FULL.md's C10 note. An
// entry point that returns normally is driven through the same Exit path
// a self-terminating one takes, so there is exactly one place that signals
// completion and exactly one send per goroutine.
//
// Post-resume, a failed start or an APPLICATION image is unloaded
// automatically, matching the original's StartImage epilogue.
func (s *Service) StartImage(handle protocoldb.Handle, systemTable uint64) (efistatus.Status, []byte, error) {
	rec, err := s.lookup(handle)
	if err != nil {
		return 0, nil, err
	}

	rec.mu.Lock()
	if rec.started {
		rec.mu.Unlock()
		return 0, nil, efistatus.AlreadyStarted.AsErrorf("image: handle %d already started", handle)
	}
	fn := rec.entry
	if fn == nil {
		rec.mu.Unlock()
		return 0, nil, efistatus.LoadError.AsErrorf("image: handle %d has no registered entry point", handle)
	}
	rec.started = true
	done := make(chan exitResult)
	rec.exitCh = done
	rec.mu.Unlock()

	s.mu.Lock()
	s.runningStack = append(s.runningStack, handle)
	s.mu.Unlock()

	go func() {
		status, data := fn(handle, systemTable)
		// The entry point returned without calling Exit itself; treat
		// that exactly as if it had, so StartImage sees one completion
		// path regardless of which one happened.
		s.Exit(handle, status, data)
	}()

	result := <-done

	if result.status != efistatus.Success || rec.Subsystem == SubsystemApplication {
		if err := s.UnloadImage(handle, false); err != nil {
			return result.status, result.data, err
		}
	}

	return result.status, result.data, nil
}

// Exit implements the Exit boot service: it validates that handle names
// the currently running image (the top of the running-image stack),
// records exitData on that image's record, hands the result back to the
// blocked StartImage call, and then terminates the calling goroutine via
// runtime.Goexit so control never returns to the entry point — the
// Go-native equivalent of the original's longjmp back to StartImage.
// Deferred cleanup in the calling goroutine still runs during Goexit,
// which is a stronger guarantee than the original's "destructors will
// not run across the yield" warning, not a violation of it.
//
// If handle does not name the currently running image, Exit returns
// InvalidParameter and control returns to the caller normally, matching
// the real boot service's behavior for a caller that is not the active
// image.
func (s *Service) Exit(handle protocoldb.Handle, status efistatus.Status, exitData []byte) efistatus.Status {
	s.mu.Lock()
	if len(s.runningStack) == 0 || s.runningStack[len(s.runningStack)-1] != handle {
		s.mu.Unlock()
		return efistatus.InvalidParameter
	}
	s.runningStack = s.runningStack[:len(s.runningStack)-1]
	rec := s.records[handle]
	s.mu.Unlock()

	rec.mu.Lock()
	rec.exitData = exitData
	ch := rec.exitCh
	rec.mu.Unlock()

	ch <- exitResult{status: status, data: exitData}
	runtime.Goexit()
	return efistatus.Success // unreachable; Goexit never returns
}
