package messaging

import "fmt"

// Router holds one Sender per configured platform.
type Router struct {
	senders map[Platform]Sender
}

// NewRouter returns a Router over the given adapters. Nil adapters are
// treated as not configured.
func NewRouter(senders map[Platform]Sender) *Router {
	r := &Router{senders: make(map[Platform]Sender, len(senders))}
	for p, s := range senders {
		if s != nil {
			r.senders[p] = s
		}
	}
	return r
}

// For returns the Sender for a platform tag.
func (r *Router) For(tag string) (Sender, error) {
	p, err := ParsePlatform(tag)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s not configured", ErrUnsupportedPlatform, p)
	}
	s, ok := r.senders[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s not configured", ErrUnsupportedPlatform, p)
	}
	return s, nil
}
