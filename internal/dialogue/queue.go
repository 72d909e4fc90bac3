package dialogue

// Enqueue appends intent unless it is the active intent or already queued.
// The returned slice never aliases queue.
func Enqueue(queue []string, active, intent string) []string {
	out := append([]string{}, queue...)
	if intent == "" || intent == active {
		return out
	}
	for _, q := range out {
		if q == intent {
			return out
		}
	}
	return append(out, intent)
}

// DequeueNext pops the oldest queued intent.
func DequeueNext(queue []string) (string, []string, bool) {
	if len(queue) == 0 {
		return "", []string{}, false
	}
	return queue[0], append([]string{}, queue[1:]...), true
}

// removeQueued drops intent from queue.
func removeQueued(queue []string, intent string) []string {
	out := make([]string, 0, len(queue))
	for _, q := range queue {
		if q != intent {
			out = append(out, q)
		}
	}
	return out
}
