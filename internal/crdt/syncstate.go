package crdt

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// SyncState returns a compact description of "changes I have": a version
// vector mapping actor id to the highest contiguous sequence number
// held. Peers exchange this instead of the full document.
func (d *Document) SyncState() ([]byte, error) {
	d.mu.Lock()
	vv := make(map[string]uint64, len(d.vv))
	for a, s := range d.vv {
		vv[a] = s
	}
	d.mu.Unlock()
	return cbor.Marshal(vv)
}

// decodeSyncState parses a peer's version vector. Empty input means the
// peer holds nothing.
func decodeSyncState(data []byte) (map[string]uint64, error) {
	if len(data) == 0 {
		return map[string]uint64{}, nil
	}
	var vv map[string]uint64
	if err := cbor.Unmarshal(data, &vv); err != nil {
		return nil, fmt.Errorf("%w: bad sync state: %v", ErrMalformedChange, err)
	}
	if vv == nil {
		vv = map[string]uint64{}
	}
	return vv, nil
}

// ChangesMissingFrom computes the minimal set of changes a peer lacks,
// given the peer's sync state. It never includes changes the peer
// already holds, and the result is safe for the receiver to apply in
// any batch order (per-actor sequence order is preserved).
func (d *Document) ChangesMissingFrom(peerState []byte) ([]*Change, error) {
	peer, err := decodeSyncState(peerState)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var missing []*Change
	for _, c := range d.log {
		if c.Seq > peer[c.Actor] {
			missing = append(missing, c)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Actor != missing[j].Actor {
			return missing[i].Actor < missing[j].Actor
		}
		return missing[i].Seq < missing[j].Seq
	})
	return missing, nil
}

// HasAllOf reports whether this document already holds everything the
// given sync state describes. The sync engine uses it to detect the
// convergence fixed point.
func (d *Document) HasAllOf(peerState []byte) (bool, error) {
	peer, err := decodeSyncState(peerState)
	if err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for actor, seq := range peer {
		if d.vv[actor] < seq {
			return false, nil
		}
	}
	return true, nil
}
