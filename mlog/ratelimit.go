package mlog

import (
	"sync"
	"time"
)

/*
RateLimit tracks the number of hits performed by each source ("actor") to determine whether a source
has exceeded the specified rate limit. Instead of being a rolling counter, the tracking data is reset
to empty at a regular interval.
*/
type RateLimit struct {
	UnitSecs int64
	MaxCount int
	Logger   *Logger

	lastTimestamp int64
	counter       map[string]int
	logged        map[string]struct{}
	counterMutex  *sync.Mutex
}

// NewRateLimit constructs a new rate limiter that allows up to maxCount hits per actor per unitSecs seconds.
func NewRateLimit(unitSecs int64, maxCount int, logger *Logger) *RateLimit {
	limit := &RateLimit{
		UnitSecs:     unitSecs,
		MaxCount:     maxCount,
		Logger:       logger,
		counter:      make(map[string]int),
		logged:       make(map[string]struct{}),
		counterMutex: new(sync.Mutex),
	}
	if limit.Logger == nil {
		limit.Logger = DefaultLogger
	}
	if limit.UnitSecs < 1 || limit.MaxCount < 1 {
		panic("NewRateLimit: UnitSecs and MaxCount must be greater than 0")
	}
	// Convert a per-second limit into an equivalent limit over several seconds to reduce log spam
	if limit.UnitSecs == 1 {
		for _, factor := range []int{11, 7, 5, 3, 2} {
			if limit.MaxCount%factor == 0 {
				limit.UnitSecs = int64(factor)
				limit.MaxCount *= factor
				break
			}
		}
	}
	return limit
}

/*
Add increases the hit counter of the actor by one and returns true if the actor stays within its
allowance for the present interval. Once the allowance is exhausted, the function returns false
until the interval passes.
*/
func (limit *RateLimit) Add(actor string, logIfLimitHit bool) bool {
	limit.counterMutex.Lock()
	defer limit.counterMutex.Unlock()
	if now := time.Now().Unix(); now-limit.lastTimestamp >= limit.UnitSecs {
		limit.counter = make(map[string]int)
		limit.logged = make(map[string]struct{})
		limit.lastTimestamp = now
	}
	count := limit.counter[actor]
	if count >= limit.MaxCount {
		if _, hasLogged := limit.logged[actor]; !hasLogged && logIfLimitHit {
			limit.Logger.Warning(actor, nil, "exceeded limit of %d hits per %d seconds", limit.MaxCount, limit.UnitSecs)
			limit.logged[actor] = struct{}{}
		}
		return false
	}
	limit.counter[actor] = count + 1
	return true
}
