package credential

import "time"

// DefaultScanLimit bounds how many of a user's newest sessions a refresh token is compared against.
const DefaultScanLimit = 100

type options struct {
	now       func() time.Time
	scanLimit int
	rotation  bool
}

// Option configures the credential components.
type Option func(*options)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithScanLimit sets how many sessions VerifySession compares at most; n <= 0 removes the bound.
func WithScanLimit(n int) Option {
	return func(o *options) { o.scanLimit = n }
}

// WithRotation makes Refresh revoke the presented session and issue a new refresh secret.
func WithRotation(enabled bool) Option {
	return func(o *options) { o.rotation = enabled }
}

func buildOptions(opts []Option) options {
	o := options{
		now:       func() time.Time { return time.Now().UTC() },
		scanLimit: DefaultScanLimit,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
