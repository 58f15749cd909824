package indicator

// Multi combines multiple Indicator implementations.
type Multi struct {
	indicators []Indicator
}

// NewMulti combines indicators.
func NewMulti(indicators ...Indicator) *Multi {
	return &Multi{indicators: indicators}
}

// Online implements Indicator.Online.
func (m *Multi) Online() {
	for _, ind := range m.indicators {
		ind.Online()
	}
}

// Tap implements Indicator.Tap.
func (m *Multi) Tap() {
	for _, ind := range m.indicators {
		ind.Tap()
	}
}

// ConnectionLost implements Indicator.ConnectionLost.
func (m *Multi) ConnectionLost() {
	for _, ind := range m.indicators {
		ind.ConnectionLost()
	}
}

// ReaderFault implements Indicator.ReaderFault.
func (m *Multi) ReaderFault() {
	for _, ind := range m.indicators {
		ind.ReaderFault()
	}
}

// Shutdown implements Indicator.Shutdown.
func (m *Multi) Shutdown() {
	for _, ind := range m.indicators {
		ind.Shutdown()
	}
}

// Release implements Indicator.Release.
func (m *Multi) Release() error {
	var lastErr error
	for _, ind := range m.indicators {
		if err := ind.Release(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
