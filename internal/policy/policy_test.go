package policy

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peerSet map[string]bool

var live = peerSet{"a": true, "b": true, "c": true}

func (p peerSet) Contains(id string) bool { return p[id] }

func (p peerSet) IDs() []string {
	out := make([]string, 0, len(p))
	for id := range p {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func TestNew_RejectsUnknownMode(t *testing.T) {
	_, err := New(Mode("open"))
	assert.Error(t, err)
}

func TestPublic_Unicast(t *testing.T) {
	p := NewPublic()
	peers := peerSet{"a": true, "b": true}

	got, err := p.Authorize("a", "b", peers)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got)

	_, err = p.Authorize("a", "c", peers)
	assert.ErrorIs(t, err, ErrInvalidDestination)

	_, err = p.Authorize("a", "a", peers)
	assert.ErrorIs(t, err, ErrInvalidDestination, "sending to yourself is not a destination")
}

func TestPublic_BroadcastExcludesSender(t *testing.T) {
	p := NewPublic()

	got, err := p.Authorize("a", Broadcast, peerSet{"a": true, "b": true, "c": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, got)

	got, err = p.Authorize("a", Broadcast, peerSet{"a": true})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPublic_JoinKeepsNoState(t *testing.T) {
	p := NewPublic()
	partner, err := p.Join("a", "room", live)
	require.NoError(t, err)
	assert.Empty(t, partner)
	partner, err = p.Join("b", "room", live)
	require.NoError(t, err)
	assert.Empty(t, partner)
	assert.Empty(t, p.Leave("a"))
}

func TestPrivate_PairsTwoAndRejectsThird(t *testing.T) {
	p := NewPrivate()

	partner, err := p.Join("a", "room1", live)
	require.NoError(t, err)
	assert.Empty(t, partner, "first joiner waits")

	partner, err = p.Join("b", "room1", live)
	require.NoError(t, err)
	assert.Equal(t, "a", partner)

	_, err = p.Join("c", "room1", live)
	assert.ErrorIs(t, err, ErrKeyAlreadyPaired)

	assert.Equal(t, "b", p.Partner("a"))
	assert.Equal(t, "a", p.Partner("b"))
	assert.Empty(t, p.Partner("c"))
	assert.Equal(t, 1, p.Sessions())
}

func TestPrivate_OneKeyPerConnection(t *testing.T) {
	p := NewPrivate()
	_, err := p.Join("a", "room1", live)
	require.NoError(t, err)
	_, err = p.Join("a", "room2", live)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	_, err = p.Join("a", "room1", live)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestPrivate_AuthorizeOnlyPartner(t *testing.T) {
	p := NewPrivate()
	peers := peerSet{"a": true, "b": true, "c": true}

	_, err := p.Authorize("a", "b", peers)
	assert.ErrorIs(t, err, ErrInvalidDestination, "unpaired connections have no valid destination")

	_, err = p.Join("a", "room1", live)
	require.NoError(t, err)
	_, err = p.Join("b", "room1", live)
	require.NoError(t, err)

	got, err := p.Authorize("a", "b", peers)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got)

	_, err = p.Authorize("a", "c", peers)
	assert.ErrorIs(t, err, ErrInvalidDestination)

	_, err = p.Authorize("a", Broadcast, peers)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestPrivate_LeaveTearsDownSessionAndFreesKey(t *testing.T) {
	p := NewPrivate()
	_, err := p.Join("a", "room1", live)
	require.NoError(t, err)
	_, err = p.Join("b", "room1", live)
	require.NoError(t, err)

	assert.Equal(t, "a", p.Leave("b"))
	assert.Empty(t, p.Leave("b"), "Leave is idempotent")
	assert.Empty(t, p.Partner("a"))
	assert.Equal(t, 0, p.Sessions())

	_, err = p.Authorize("a", "b", peerSet{"a": true})
	assert.ErrorIs(t, err, ErrInvalidDestination)

	partner, err := p.Join("c", "room1", live)
	require.NoError(t, err)
	assert.Empty(t, partner, "freed key starts a new pending pairing")
	partner, err = p.Join("a", "room1", live)
	require.NoError(t, err)
	assert.Equal(t, "c", partner, "the former partner may pair again")
}

func TestPrivate_PendingLeaveFreesKey(t *testing.T) {
	p := NewPrivate()
	_, err := p.Join("a", "room1", live)
	require.NoError(t, err)
	assert.Empty(t, p.Leave("a"))

	partner, err := p.Join("b", "room1", live)
	require.NoError(t, err)
	assert.Empty(t, partner)
}

func TestJoin_RejectsDepartedConnection(t *testing.T) {
	for _, p := range []Policy{NewPublic(), NewPrivate()} {
		t.Run(string(p.Mode()), func(t *testing.T) {
			_, err := p.Join("gone", "room1", live)
			assert.ErrorIs(t, err, ErrNotRegistered)
			assert.Empty(t, p.Partner("gone"))
		})
	}

	// The departed id must not hold the key for the next joiners.
	p := NewPrivate()
	_, err := p.Join("gone", "room1", live)
	require.ErrorIs(t, err, ErrNotRegistered)

	partner, err := p.Join("a", "room1", live)
	require.NoError(t, err)
	assert.Empty(t, partner)
	partner, err = p.Join("b", "room1", live)
	require.NoError(t, err)
	assert.Equal(t, "a", partner)
}
