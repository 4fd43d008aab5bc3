// Copyright (c) 2013-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"math"
	"math/rand"
	"time"
)

// jitterScaler bounds how far a jitterTicker tick may drift from its base
// duration, as a fraction of that duration in both directions.
const jitterScaler = 0.2

// jitterTicker is a ticker whose period varies randomly around a base
// duration, so a fleet of daemons polling the same indexer on the same
// nominal schedule don't all land on it in lockstep.
type jitterTicker struct {
	C <-chan time.Time

	c   chan time.Time
	min int64
	max int64

	quit chan struct{}
}

// newJitterTicker starts a jitterTicker ticking at intervals drawn uniformly
// from [d*(1-scaler), d*(1+scaler)], floored at zero.
func newJitterTicker(d time.Duration, scaler float64) *jitterTicker {
	min := math.Floor(float64(d) * (1 - scaler))
	if min < 0 {
		min = 0
	}
	max := math.Ceil(float64(d) * (1 + scaler))

	jt := &jitterTicker{
		c:    make(chan time.Time, 1),
		min:  int64(min),
		max:  int64(max),
		quit: make(chan struct{}),
	}
	jt.C = jt.c
	go jt.run()
	return jt
}

func (jt *jitterTicker) run() {
	timer := time.NewTimer(jt.next())
	for {
		select {
		case t := <-timer.C:
			timer.Reset(jt.next())
			select {
			case jt.c <- t:
			default:
			}
		case <-jt.quit:
			if !timer.Stop() {
				<-timer.C
			}
			return
		}
	}
}

func (jt *jitterTicker) next() time.Duration {
	if jt.max == jt.min {
		return time.Duration(jt.min)
	}
	return time.Duration(rand.Int63n(jt.max-jt.min) + jt.min)
}

// Stop halts the ticker. Safe to call once.
func (jt *jitterTicker) Stop() {
	close(jt.quit)
}
