// Package clock lets time-dependent components (retry backoff, the publish
// queue, the job store) swap in a fake clock under test instead of calling
// time.Now directly.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type real struct{}

// Real is the process wall clock.
var Real Clock = real{}

func (real) Now() time.Time { return time.Now().UTC() }
