//go:build unix && !linux

package reactor

func newEpoll() (poller, error) { return nil, ErrUnsupported }
