package policy

// Public allows any live connection to address any other, and supports
// broadcast. It keeps no session state.
type Public struct{}

func NewPublic() *Public { return &Public{} }

func (*Public) Mode() Mode { return ModePublic }

func (*Public) Join(id, _ string, peers Peers) (string, error) {
	if !peers.Contains(id) {
		return "", ErrNotRegistered
	}
	return "", nil
}

func (*Public) Authorize(src, dst string, peers Peers) ([]string, error) {
	if dst == Broadcast {
		ids := peers.IDs()
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if id != src {
				out = append(out, id)
			}
		}
		return out, nil
	}
	if dst == src || !peers.Contains(dst) {
		return nil, ErrInvalidDestination
	}
	return []string{dst}, nil
}

func (*Public) Leave(string) string { return "" }

func (*Public) Partner(string) string { return "" }
