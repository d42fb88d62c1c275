// Package threading groups the records of one job into conversations.
//
// Resolution is a pure function of the record set: records are put into
// canonical order (folder path, offset, id) before any decision is made,
// so the input order never changes the outcome.
package threading

import (
	"sort"
	"strconv"
	"strings"

	"github.com/welldanyogia/evidence-ingest/internal/models"
)

// ConversationPrefixLen is the hex length of the Thread-Index header block
// shared by every message of one conversation (22 bytes).
const ConversationPrefixLen = 44

// SyntheticPrefix marks roots derived from a record's forensic location
const SyntheticPrefix = "forensic:"

// Result is the outcome of one resolution pass
type Result struct {
	// Roots maps record id to its thread root id
	Roots map[uint]string
	// Threads is the number of distinct roots
	Threads int
	// Cycles lists the message ids of every reply cycle that was broken
	Cycles []Cycle
}

// Cycle is a reply loop and the member chosen as its root
type Cycle struct {
	Members []string
	Root    string
}

// SyntheticRootID is the root id of a record without a message id
func SyntheticRootID(folder string, offset int) string {
	return SyntheticPrefix + folder + "#" + strconv.Itoa(offset)
}

// Resolve assigns a thread root to every record
func Resolve(links []models.ThreadLink) *Result {
	nodes := make([]models.ThreadLink, len(links))
	copy(nodes, links)
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.SourceFolderPath != b.SourceFolderPath {
			return a.SourceFolderPath < b.SourceFolderPath
		}
		if a.SourceMessageOffset != b.SourceMessageOffset {
			return a.SourceMessageOffset < b.SourceMessageOffset
		}
		return a.ID < b.ID
	})

	// First record in canonical order wins a message id collision
	lookup := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.MessageID == "" {
			continue
		}
		if _, ok := lookup[n.MessageID]; !ok {
			lookup[n.MessageID] = i
		}
	}

	parent := make([]int, len(nodes))
	children := make([]int, len(nodes))
	for i, n := range nodes {
		parent[i] = resolveParent(i, n, lookup)
		if parent[i] >= 0 && parent[i] != i {
			children[parent[i]]++
		}
	}

	res := &Result{Roots: make(map[uint]string, len(nodes))}
	root := findRoots(nodes, parent, res)

	mergeConversations(nodes, parent, children, root)

	distinct := make(map[string]struct{})
	for i, n := range nodes {
		id := rootID(nodes[root[i]])
		distinct[id] = struct{}{}
		res.Roots[n.ID] = id
	}
	res.Threads = len(distinct)
	return res
}

// resolveParent prefers In-Reply-To, then the last resolvable References entry
func resolveParent(self int, n models.ThreadLink, lookup map[string]int) int {
	if p, ok := lookup[n.InReplyTo]; ok && n.InReplyTo != "" {
		return p
	}
	for i := len(n.References) - 1; i >= 0; i-- {
		if p, ok := lookup[n.References[i]]; ok && p != self {
			return p
		}
	}
	return -1
}

// walk states
const (
	unvisited = iota
	onPath
	done
)

// findRoots follows parent links from every node. A walk that revisits a
// node on its own path has found a cycle, whose canonical-first member
// becomes the root of every member.
func findRoots(nodes []models.ThreadLink, parent []int, res *Result) []int {
	root := make([]int, len(nodes))
	state := make([]int, len(nodes))

	for start := range nodes {
		if state[start] == done {
			continue
		}

		var path []int
		cur := start
		for {
			if state[cur] == done {
				break
			}
			if state[cur] == onPath {
				breakCycle(nodes, path, cur, root, state, res)
				break
			}
			state[cur] = onPath
			path = append(path, cur)

			p := parent[cur]
			if p < 0 {
				root[cur] = cur
				state[cur] = done
				break
			}
			cur = p
		}

		// Unwind: every node on the path shares the root of its parent
		for i := len(path) - 1; i >= 0; i-- {
			n := path[i]
			if state[n] == done {
				continue
			}
			root[n] = root[parent[n]]
			state[n] = done
		}
	}
	return root
}

func breakCycle(nodes []models.ThreadLink, path []int, entry int, root, state []int, res *Result) {
	first := 0
	for i, n := range path {
		if n == entry {
			first = i
			break
		}
	}
	members := path[first:]

	// Indices follow canonical order, so the smallest index is the first-seen member
	chosen := members[0]
	for _, m := range members {
		if m < chosen {
			chosen = m
		}
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		root[m] = chosen
		state[m] = done
		ids = append(ids, rootID(nodes[m]))
	}
	sort.Strings(ids)
	res.Cycles = append(res.Cycles, Cycle{Members: ids, Root: rootID(nodes[chosen])})
}

// mergeConversations groups unlinked singletons by conversation index prefix.
// Roots of linked threads are never changed; singletons join a linked
// thread carrying the same prefix, otherwise the canonical-first singleton
// of the group becomes the root.
func mergeConversations(nodes []models.ThreadLink, parent, children, root []int) {
	singleton := func(i int) bool {
		return (parent[i] < 0 || parent[i] == i) && children[i] == 0
	}

	linkedRoot := make(map[string]int)
	groups := make(map[string][]int)
	var prefixes []string

	for i, n := range nodes {
		prefix := conversationPrefix(n.ConversationIndex)
		if prefix == "" {
			continue
		}
		if !singleton(i) {
			if r, ok := linkedRoot[prefix]; !ok || root[i] < r {
				linkedRoot[prefix] = root[i]
			}
			continue
		}
		if _, ok := groups[prefix]; !ok {
			prefixes = append(prefixes, prefix)
		}
		groups[prefix] = append(groups[prefix], i)
	}

	for _, prefix := range prefixes {
		members := groups[prefix]
		target, ok := linkedRoot[prefix]
		if !ok {
			target = members[0]
		}
		for _, m := range members {
			root[m] = target
		}
	}
}

func conversationPrefix(index string) string {
	if len(index) < ConversationPrefixLen {
		return ""
	}
	return strings.ToLower(index[:ConversationPrefixLen])
}

func rootID(n models.ThreadLink) string {
	if n.MessageID != "" {
		return n.MessageID
	}
	return SyntheticRootID(n.SourceFolderPath, n.SourceMessageOffset)
}
