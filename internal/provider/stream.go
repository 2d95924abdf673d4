package provider

import (
	"context"
	"strings"
)

// fragmentBuffer bounds in-flight fragments so a slow client applies
// backpressure to the provider read loop.
const fragmentBuffer = 16

// Stream is a finite, non-restartable sequence of text fragments. The
// producer closes the fragment channel when the provider signals completion;
// Err reports how the stream ended and is valid only after the channel is
// closed.
type Stream struct {
	fragments chan string
	err       error
}

func NewStream() *Stream {
	return &Stream{fragments: make(chan string, fragmentBuffer)}
}

// Fragments returns the channel of text fragments, closed on completion.
func (s *Stream) Fragments() <-chan string {
	return s.fragments
}

// Err reports the terminal error, if any. Only valid after Fragments is
// closed.
func (s *Stream) Err() error {
	return s.err
}

// Emit delivers one fragment, honoring cancellation. Returns false when ctx
// is done and the producer should stop.
func (s *Stream) Emit(ctx context.Context, fragment string) bool {
	select {
	case s.fragments <- fragment:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish records the terminal error and closes the stream. Must be called
// exactly once by the producer.
func (s *Stream) Finish(err error) {
	s.err = err
	close(s.fragments)
}

// Collect drains the stream and returns the concatenated text. Used by the
// non-streaming completion path.
func (s *Stream) Collect() (string, error) {
	var b strings.Builder
	for fragment := range s.fragments {
		b.WriteString(fragment)
	}
	return b.String(), s.err
}

// staticStream produces a pre-composed text as a word-by-word stream without
// any network activity. Used for development mode responses.
func staticStream(ctx context.Context, text string) *Stream {
	s := NewStream()
	go func() {
		for _, word := range strings.SplitAfter(text, " ") {
			if word == "" {
				continue
			}
			if !s.Emit(ctx, word) {
				s.Finish(ctx.Err())
				return
			}
		}
		s.Finish(nil)
	}()
	return s
}
