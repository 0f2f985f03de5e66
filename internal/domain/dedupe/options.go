package dedupe

// Option configures the in-memory deduper.
type Option func(*window)

// WithMaxSize bounds how many ids are remembered. Zero or negative keeps
// every id.
func WithMaxSize(maxSize int) Option {
	return func(w *window) {
		w.maxSize = maxSize
	}
}
