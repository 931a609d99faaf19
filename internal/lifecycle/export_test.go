package lifecycle

// PollRunning reports whether the poll loop is active.
func (m *Monitor) PollRunning() bool {
	return m.pollLoop.Running()
}
