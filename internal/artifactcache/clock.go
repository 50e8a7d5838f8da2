package artifactcache

import "time"

// Clock indirection for tests.
var (
	timeNow       = time.Now
	timeAfterFunc = time.AfterFunc
)
