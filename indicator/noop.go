package indicator

// Noop implements Indicator but does nothing.
// Used when no indicators are configured.
type Noop struct{}

// Online implements Indicator.Online.
func (n *Noop) Online() {}

// Tap implements Indicator.Tap.
func (n *Noop) Tap() {}

// ConnectionLost implements Indicator.ConnectionLost.
func (n *Noop) ConnectionLost() {}

// ReaderFault implements Indicator.ReaderFault.
func (n *Noop) ReaderFault() {}

// Shutdown implements Indicator.Shutdown.
func (n *Noop) Shutdown() {}

// Release implements Indicator.Release.
func (n *Noop) Release() error {
	return nil
}
