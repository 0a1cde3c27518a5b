package controller

import (
	"sync"

	"github.com/google/uuid"
)

// Scope identifies which accessory listing a node mirrors.
type Scope int

// Browse scopes.
const (
	ScopePlayerList Scope = iota
	ScopeFileSystem
	ScopeSearch
	ScopeNowPlaying
)

// RootID is the identifier of the process-wide tree root.
const RootID = "avrcp:root"

// fetchWindow is the page size requested from the accessory.
const fetchWindow = 20

// BrowseNode is a read-only snapshot of one tree node.
type BrowseNode struct {
	ID            string
	Scope         Scope
	Device        DeviceID
	Parent        string
	Children      []string
	Name          string
	Cached        bool
	FetchInFlight bool
	Epoch         uint32
	PlayerID      int
	Item          *MediaItem
	Player        *PlayerItem
}

type treeNode struct {
	id       string
	scope    Scope
	device   DeviceID
	parent   string
	children []string
	name     string
	cached   bool
	fetching bool
	epoch    uint32
	expected int
	pinned   int
	playerID int
	item     *MediaItem
	player   *PlayerItem
}

// FetchState reports what BeginFetch did for a node.
type FetchState int

// Fetch states.
const (
	FetchUnknownNode FetchState = iota
	FetchCached
	FetchPending
	FetchStarted
)

// FetchSpec describes the engine command needed to populate a node.
type FetchSpec struct {
	NodeID   string
	Device   DeviceID
	Scope    Scope
	Epoch    uint32
	Start    int
	End      int
	PlayerID int
}

// MergeResult reports the outcome of merging one result page.
type MergeResult struct {
	Stale    bool
	Added    int
	Children int
	Final    bool
}

// BrowseTree is the shared hierarchical cache of browsable content. The
// root is process-wide and never destroyed; device subtrees attach when
// a session connects with browsing and detach when it ends. Node IDs are
// unique for the process lifetime and never reused.
type BrowseTree struct {
	mu        sync.RWMutex
	nodes     map[string]*treeNode
	nextEpoch uint32
}

// NewBrowseTree creates a tree containing only the root node.
func NewBrowseTree() *BrowseTree {
	tree := &BrowseTree{nodes: make(map[string]*treeNode)}
	tree.nodes[RootID] = &treeNode{
		id:       RootID,
		scope:    ScopePlayerList,
		name:     "Devices",
		cached:   true,
		expected: -1,
	}
	return tree
}

// Node returns a snapshot of a node by ID. The flat index spans every
// device subtree, so lookups resolve regardless of which device owns
// the node.
func (t *BrowseTree) Node(id string) (BrowseNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.nodes[id]
	if !ok {
		return BrowseNode{}, false
	}
	return node.snapshot(), true
}

// ChildrenOf returns snapshots of a node's children in protocol order.
func (t *BrowseTree) ChildrenOf(id string) []BrowseNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]BrowseNode, 0, len(node.children))
	for _, childID := range node.children {
		if child, ok := t.nodes[childID]; ok {
			out = append(out, child.snapshot())
		}
	}
	return out
}

// AttachDevice creates a device subtree under the root: a player-list
// node for the device plus its now-playing node. The now-playing node
// is pinned under the device root, so player-list invalidation leaves
// it in place. Idempotent per device.
func (t *BrowseTree) AttachDevice(dev DeviceID) (deviceRootID string, nowPlayingID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, node := range t.nodes {
		if node.device == dev && node.parent == RootID {
			for _, childID := range node.children {
				if child, ok := t.nodes[childID]; ok && child.scope == ScopeNowPlaying {
					return node.id, child.id
				}
			}
			return node.id, ""
		}
	}

	deviceRootID = "device:" + uuid.NewString()
	nowPlayingID = "nowplaying:" + uuid.NewString()
	t.nodes[deviceRootID] = &treeNode{
		id:       deviceRootID,
		scope:    ScopePlayerList,
		device:   dev,
		parent:   RootID,
		name:     dev.String(),
		expected: -1,
		pinned:   1,
		playerID: -1,
		children: []string{nowPlayingID},
	}
	t.nodes[nowPlayingID] = &treeNode{
		id:       nowPlayingID,
		scope:    ScopeNowPlaying,
		device:   dev,
		parent:   deviceRootID,
		name:     "Now Playing",
		expected: -1,
		playerID: -1,
	}
	root := t.nodes[RootID]
	root.children = append(root.children, deviceRootID)
	return deviceRootID, nowPlayingID
}

// DetachDevice tears down a device's whole subtree. Late fetch results
// for removed nodes are dropped as unknown-node merges.
func (t *BrowseTree) DetachDevice(dev DeviceID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root := t.nodes[RootID]
	kept := root.children[:0]
	for _, childID := range root.children {
		if child, ok := t.nodes[childID]; ok && child.device == dev {
			continue
		}
		kept = append(kept, childID)
	}
	root.children = kept

	for id, node := range t.nodes {
		if node.device == dev {
			delete(t.nodes, id)
		}
	}
}

// DeviceRoot returns the subtree root node for a device, if attached.
func (t *BrowseTree) DeviceRoot(dev DeviceID) (BrowseNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, node := range t.nodes {
		if node.device == dev && node.parent == RootID {
			return node.snapshot(), true
		}
	}
	return BrowseNode{}, false
}

// BeginFetch marks a node as having a fetch in flight and returns the
// spec for the command to issue. Cached nodes and nodes with a fetch
// already in flight do not start a second fetch.
func (t *BrowseTree) BeginFetch(id string) (FetchSpec, FetchState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return FetchSpec{}, FetchUnknownNode
	}
	if node.cached {
		return FetchSpec{}, FetchCached
	}
	if node.fetching {
		return FetchSpec{}, FetchPending
	}

	t.nextEpoch++
	node.fetching = true
	node.epoch = t.nextEpoch
	fetched := len(node.children) - node.pinned
	return FetchSpec{
		NodeID:   id,
		Device:   node.device,
		Scope:    node.scope,
		Epoch:    node.epoch,
		Start:    fetched,
		End:      fetched + fetchWindow - 1,
		PlayerID: node.playerID,
	}, FetchStarted
}

// NextWindow returns the spec for the next page of an in-flight fetch.
func (t *BrowseTree) NextWindow(id string, epoch uint32) (FetchSpec, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.nodes[id]
	if !ok || !node.fetching || node.epoch != epoch {
		return FetchSpec{}, false
	}
	// Pinned children are not part of the accessory listing, so the
	// window indexes only the fetched tail.
	fetched := len(node.children) - node.pinned
	return FetchSpec{
		NodeID:   id,
		Device:   node.device,
		Scope:    node.scope,
		Epoch:    epoch,
		Start:    fetched,
		End:      fetched + fetchWindow - 1,
		PlayerID: node.playerID,
	}, true
}

// AbandonFetch clears the in-flight flag without caching, used when a
// request is superseded before its reply arrives.
func (t *BrowseTree) AbandonFetch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node, ok := t.nodes[id]; ok {
		node.fetching = false
	}
}

// MergeItems appends one page of media items to a node's children in
// received order. Pages tagged with a superseded epoch are discarded.
// The node becomes cached only once the final page has been merged.
func (t *BrowseTree) MergeItems(id string, epoch uint32, items []MediaItem, final bool) MergeResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok || node.epoch != epoch || !node.fetching {
		return MergeResult{Stale: true}
	}

	for i := range items {
		item := items[i]
		childID := "item:" + uuid.NewString()
		t.nodes[childID] = &treeNode{
			id:       childID,
			scope:    node.scope,
			device:   node.device,
			parent:   id,
			name:     item.DisplayName(),
			cached:   !item.Browsable,
			expected: -1,
			playerID: -1,
			item:     &item,
		}
		node.children = append(node.children, childID)
	}

	if final || (node.expected >= 0 && len(node.children)-node.pinned >= node.expected) {
		node.cached = true
		node.fetching = false
		final = true
	}
	return MergeResult{Added: len(items), Children: len(node.children), Final: final}
}

// MergePlayers appends one page of players to a player-list node.
func (t *BrowseTree) MergePlayers(id string, epoch uint32, players []PlayerItem, final bool) MergeResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok || node.epoch != epoch || !node.fetching {
		return MergeResult{Stale: true}
	}

	for i := range players {
		player := players[i]
		childID := "player:" + uuid.NewString()
		t.nodes[childID] = &treeNode{
			id:       childID,
			scope:    ScopeFileSystem,
			device:   node.device,
			parent:   id,
			name:     player.Name,
			cached:   !player.Browsable,
			expected: -1,
			playerID: player.PlayerID,
			player:   &player,
		}
		node.children = append(node.children, childID)
	}

	if final {
		node.cached = true
		node.fetching = false
	}
	return MergeResult{Added: len(players), Children: len(node.children), Final: final}
}

// Invalidate drops a node's fetched children and cache state ahead of a
// fresh fetch, so stale and new contents are never presented mixed.
// Pinned children survive; retired child node IDs are never reused.
func (t *BrowseTree) Invalidate(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return
	}
	kept := node.children[:node.pinned:node.pinned]
	t.removeSubtreeLocked(node.children[node.pinned:])
	node.children = kept
	node.cached = false
	node.fetching = false
	node.expected = -1
}

// SetExpected records the child count reported by a change-folder or
// set-browsed-player result.
func (t *BrowseTree) SetExpected(id string, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node, ok := t.nodes[id]; ok {
		node.expected = count
	}
}

func (t *BrowseTree) removeSubtreeLocked(ids []string) {
	for _, id := range ids {
		if node, ok := t.nodes[id]; ok {
			t.removeSubtreeLocked(node.children)
			delete(t.nodes, id)
		}
	}
}

func (n *treeNode) snapshot() BrowseNode {
	children := make([]string, len(n.children))
	copy(children, n.children)
	return BrowseNode{
		ID:            n.id,
		Scope:         n.scope,
		Device:        n.device,
		Parent:        n.parent,
		Children:      children,
		Name:          n.name,
		Cached:        n.cached,
		FetchInFlight: n.fetching,
		Epoch:         n.epoch,
		PlayerID:      n.playerID,
		Item:          n.item,
		Player:        n.player,
	}
}
