package symbolicate

import "github.com/ianlancetaylor/demangle"

// symbolicateRust demangles each frame's function name, leaving
// non-mangled names and every other field unchanged. No source lookup is
// performed for this platform.
func (s *Symbolicator) symbolicateRust(trace Stacktrace) Stacktrace {
	out := Stacktrace{Frames: make([]Frame, len(trace.Frames))}
	for i, frame := range trace.Frames {
		out.Frames[i] = frame
		if frame.Function == nil {
			continue
		}
		demangled := demangle.Filter(*frame.Function)
		out.Frames[i].Function = &demangled
	}
	return out
}
