package policy

import "sync"

type pairing struct {
	first  string
	second string // "" while pending
}

func (p *pairing) other(id string) string {
	if p.first == id {
		return p.second
	}
	return p.first
}

// Private reserves each pairing key for exactly two connections.
//
// Sessions are stored as lookup tables keyed by id and by key rather than as
// references between connections.
type Private struct {
	mu     sync.Mutex
	byKey  map[string]*pairing
	keyFor map[string]string // connection id -> key
}

func NewPrivate() *Private {
	return &Private{
		byKey:  make(map[string]*pairing),
		keyFor: make(map[string]string),
	}
}

func (*Private) Mode() Mode { return ModePrivate }

func (p *Private) Join(id, key string, peers Peers) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !peers.Contains(id) {
		return "", ErrNotRegistered
	}
	if _, ok := p.keyFor[id]; ok {
		return "", ErrAlreadyJoined
	}
	pr, ok := p.byKey[key]
	switch {
	case !ok:
		p.byKey[key] = &pairing{first: id}
		p.keyFor[id] = key
		return "", nil
	case pr.second == "":
		pr.second = id
		p.keyFor[id] = key
		return pr.first, nil
	default:
		return "", ErrKeyAlreadyPaired
	}
}

func (p *Private) Authorize(src, dst string, peers Peers) ([]string, error) {
	if dst == Broadcast {
		return nil, ErrForbidden
	}
	partner := p.Partner(src)
	if partner == "" || dst != partner || !peers.Contains(dst) {
		return nil, ErrInvalidDestination
	}
	return []string{dst}, nil
}

func (p *Private) Leave(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.keyFor[id]
	if !ok {
		return ""
	}
	delete(p.keyFor, id)
	pr := p.byKey[key]
	delete(p.byKey, key)
	if pr == nil {
		return ""
	}
	partner := pr.other(id)
	if partner != "" {
		delete(p.keyFor, partner)
	}
	return partner
}

func (p *Private) Partner(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.keyFor[id]
	if !ok {
		return ""
	}
	pr := p.byKey[key]
	if pr == nil || pr.second == "" {
		return ""
	}
	return pr.other(id)
}

// Sessions returns the number of completed pairings.
func (p *Private) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, pr := range p.byKey {
		if pr.second != "" {
			n++
		}
	}
	return n
}
