package token

// try makes one lock-free attempt to obtain refs[i] in mode. It never waits.
func (t *Thread) try(i int, mode Mode) bool {
	ref := &t.refs[i]
	tok := ref.tok

	if mode&ModeExclusive != 0 {
		for {
			count := tok.word.Load()
			switch {
			case count&^wordRequest == 0:
				if tok.trySetExclusive(count) {
					tok.owner.Store(t.ident(i))
					return true
				}
			case count&wordExclusive != 0 && t.ownsExclusive(tok):
				// Recursive: count the Ref as a shared hold on our own exclusive token
				// so Release can simply subtract it again.
				tok.word.Add(wordIncr)
				ref.mode &^= ModeExclusive
				return true
			default:
				if mode&ModeRequest != 0 {
					tok.setRequest()
				}
				return false
			}
		}
	}

	// Shared. ModeRequest here means defer to a waiting exclusive requester, which only
	// a Thread holding few tokens does.
	honour := mode&ModeRequest != 0 && t.top <= t.cfg.HintDepth
	count := tok.word.Load()
	for {
		switch {
		case count&wordExclusive == 0 && (!honour || count&wordRequest == 0):
			if tok.addShared()&wordExclusive == 0 {
				return true
			}
			count = tok.subShared()
		case count&wordExclusive != 0 && t.ownsExclusive(tok):
			tok.word.Add(wordIncr)
			return true
		default:
			return false
		}
	}
}

// trySpin retries refs[i] through the backoff rounds. Exclusive requests back off
// exponentially outside this processor's window; shared requests drop the hint inside
// it. Exhausting the rounds counts a collision.
func (t *Thread) trySpin(i int, mode Mode) bool {
	if t.try(i, mode) {
		return true
	}
	if mode&ModeExclusive != 0 {
		backoff := 0
		for range t.cfg.Spin {
			if !t.window() {
				t.pause(backoff)
			}
			if t.try(i, t.refs[i].mode) {
				return true
			}
			backoff = min((backoff+1)*3/2, t.cfg.Delay)
		}
	} else {
		for range t.cfg.Spin {
			if t.window() {
				// Our turn: a stale exclusive request must not starve us.
				if t.try(i, mode&^ModeRequest) {
					return true
				}
			} else if t.try(i, mode) {
				return true
			}
			t.pause(1)
		}
	}
	t.refs[i].tok.collisions.Inc()
	return false
}

// inWindow reports whether the clock currently gives this processor priority.
func (t *Thread) inWindow() bool {
	return int((uint64(nanotime())>>t.cfg.Window)%uint64(t.windows)) == cpuID()
}
