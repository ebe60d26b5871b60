package game

// SetTimer stores the game-wide deadline. A timer handed to an ended game is
// stopped immediately.
func (g *Game) SetTimer(t Timer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		t.Stop()
		return
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = t
}

func (g *Game) ClearTimer() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// SetMoveTimer stores the per-move deadline.
func (g *Game) SetMoveTimer(t Timer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		t.Stop()
		return
	}
	if g.moveTimer != nil {
		g.moveTimer.Stop()
	}
	g.moveTimer = t
}

func (g *Game) ClearMoveTimer() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.moveTimer != nil {
		g.moveTimer.Stop()
		g.moveTimer = nil
	}
}

func (g *Game) stopTimersLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if g.moveTimer != nil {
		g.moveTimer.Stop()
		g.moveTimer = nil
	}
}
