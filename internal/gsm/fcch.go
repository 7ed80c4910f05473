package gsm

import "math"

type fcchState int

const (
	fcchInit fcchState = iota
	fcchSearch
	fcchFoundSomething
	fcchFound
	fcchFail
)

// findFCCH scans in for a frequency correction burst: a run of positive
// phase steps of nearly constant size. On success the burst position and a
// new frequency offset estimate are stored on the receiver.
func (r *Receiver) findFCCH(in []complex64) SearchResult {
	nitems := len(in)
	window := r.cfg.fcchWindow()
	hitsNeeded := r.cfg.fcchHits()
	maxMisses := r.cfg.fcchMisses()

	// A buffer that cannot hold one burst is scanned in full and dropped.
	if nitems < window+maxMisses {
		r.counter += int64(nitems)
		return SearchResult{Consumed: nitems, Outcome: NotFound}
	}

	var (
		phaseDiff   float64
		hits        int
		misses      int
		startPos    = -1
		lowestDiff  = math.MaxFloat64
		toConsume   int
		sampleNr    int
		outcome     = NotFound
		state       = fcchInit
		idealStep   = (math.Pi / 2) / float64(r.cfg.OSR)
		searchLimit = nitems - window
	)

loop:
	for {
		switch state {
		case fcchInit:
			hits = 0
			misses = 0
			startPos = -1
			lowestDiff = math.MaxFloat64
			r.ring.Clear()
			state = fcchSearch

		case fcchSearch:
			sampleNr++
			if sampleNr > searchLimit {
				toConsume = sampleNr
				state = fcchFail
				continue
			}
			phaseDiff = PhaseDiff(in[sampleNr], in[sampleNr-1])
			if phaseDiff > 0 {
				toConsume = sampleNr
				state = fcchFoundSomething
			}

		case fcchFoundSomething:
			if phaseDiff > 0 {
				hits++
			} else {
				misses++
			}

			switch {
			case misses >= maxMisses && hits <= hitsNeeded:
				state = fcchInit
				continue
			case (misses >= maxMisses && hits > hitsNeeded) || hits > 2*hitsNeeded:
				state = fcchFound
				continue
			case misses < maxMisses && hits > hitsNeeded:
				// The tightest spread of phase steps marks the cleanest burst region.
				if spread := r.ring.Spread(); spread < lowestDiff {
					lowestDiff = spread
					startPos = sampleNr - hitsNeeded - maxMisses
					r.bestSum = r.ring.DeviationSum(idealStep)
				}
			}

			sampleNr++
			if sampleNr >= nitems {
				state = fcchFail
				continue
			}
			phaseDiff = PhaseDiff(in[sampleNr], in[sampleNr-1])
			r.ring.Push(phaseDiff)

		case fcchFound:
			// With several tolerated misses the best window can open
			// before the buffer; the burst is taken to start at its head.
			startPos = max(startPos, 0)
			toConsume = startPos + hitsNeeded + 1
			r.fcchStartPos = r.counter + int64(startPos)
			r.computeFreqOffset()
			outcome = Found
			break loop

		case fcchFail:
			break loop
		}
	}

	r.counter += int64(toConsume)
	return SearchResult{Consumed: toConsume, Outcome: outcome}
}

// computeFreqOffset turns the best accumulated phase deviation into Hz and
// folds it into the running offset with negative feedback.
func (r *Receiver) computeFreqOffset() float64 {
	phaseOffset := r.bestSum / float64(r.cfg.FCCHHitsNeeded)
	offset := phaseOffset * hzPerRadian
	r.freqOffset -= offset
	r.lastEstimate = offset
	r.stats.add(offset)
	return offset
}
