package hub

// pickOpponent returns the index of the queued user closest in rating to u,
// or -1 if nobody is within threshold. Ties go to whoever queued first.
func pickOpponent(queue []queueEntry, u User, threshold int) int {
	best, bestDiff := -1, 0
	for i, e := range queue {
		if e.user.ID == u.ID {
			continue
		}
		diff := abs(e.user.Rating - u.Rating)
		if diff >= threshold {
			continue
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
