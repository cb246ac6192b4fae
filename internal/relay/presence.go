package relay

import "sort"

// presence is the broker-owned record marking a user online: a
// snapshot of their durable trust list plus the inventory of open
// streams grouped by app domain. It exists iff at least one relay is
// open for the user; removeStream's cascade is its only destructor.
// All access is guarded by the broker mutex.
type presence struct {
	id      string
	trusted map[string]struct{}
	streams map[string]map[StreamID]struct{}
}

func newPresence(id string, trustedPeers []string) *presence {
	p := &presence{
		id:      id,
		trusted: make(map[string]struct{}, len(trustedPeers)),
		streams: make(map[string]map[StreamID]struct{}),
	}
	for _, peer := range trustedPeers {
		p.trusted[peer] = struct{}{}
	}
	return p
}

// trusts reports whether the user has pre-authorized requester. Trust
// is asserted by this user, not the requester, and is not reciprocal.
func (p *presence) trusts(requester string) bool {
	if p.id == requester {
		return true
	}
	_, ok := p.trusted[requester]
	return ok
}

func (p *presence) setTrusted(peers []string) {
	p.trusted = make(map[string]struct{}, len(peers))
	for _, peer := range peers {
		p.trusted[peer] = struct{}{}
	}
}

// addStream records the stream in the app's bucket. Stream sets make
// re-adding an id a no-op rather than a duplicate entry.
func (p *presence) addStream(app string, id StreamID) {
	bucket, ok := p.streams[app]
	if !ok {
		bucket = make(map[StreamID]struct{})
		p.streams[app] = bucket
	}
	bucket[id] = struct{}{}
}

// removeStream drops the stream and prunes the app bucket if it
// empties. The caller removes the whole presence when streamCount
// reaches zero.
func (p *presence) removeStream(app string, id StreamID) {
	bucket, ok := p.streams[app]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(p.streams, app)
	}
}

func (p *presence) streamCount() int {
	n := 0
	for _, bucket := range p.streams {
		n += len(bucket)
	}
	return n
}

// View is a read-only presence snapshot handed to callers outside the
// broker lock. Slices are sorted for stable output.
type View struct {
	ID           string           `json:"id"`
	TrustedPeers []string         `json:"trusted_peers"`
	Streams      map[string][]int `json:"streams"`
}

func (p *presence) view() View {
	v := View{
		ID:           p.id,
		TrustedPeers: make([]string, 0, len(p.trusted)),
		Streams:      make(map[string][]int, len(p.streams)),
	}
	for peer := range p.trusted {
		v.TrustedPeers = append(v.TrustedPeers, peer)
	}
	sort.Strings(v.TrustedPeers)
	for app, bucket := range p.streams {
		ids := make([]int, 0, len(bucket))
		for id := range bucket {
			ids = append(ids, int(id))
		}
		sort.Ints(ids)
		v.Streams[app] = ids
	}
	return v
}
