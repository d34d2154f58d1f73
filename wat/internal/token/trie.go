package token

import "strings"

// trie is a compressed (radix/PATRICIA) keyword trie: each edge is labeled
// with a whole run of bytes, not a single character, so recognizing a name
// advances past shared runs ("i32.", "trunc_", ...) in one comparison
// instead of one byte at a time. This is the "position-discriminator"
// shape the spec calls for: the next position actually inspected depends on
// where the surviving candidates diverge, not on a fixed stride.
type trieNode struct {
	edge     string
	children map[byte]*trieNode
	terminal bool
	kind     Kind
	canon    string
}

func newTrieNode(edge string) *trieNode {
	return &trieNode{edge: edge, children: make(map[byte]*trieNode)}
}

type trie struct {
	root *trieNode
}

func newTrie() *trie {
	return &trie{root: newTrieNode("")}
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func (t *trie) insert(key string, kind Kind, canon string) {
	insertInto(t.root, key, kind, canon)
}

// insertInto adds key under n, where n's own edge has already been matched
// by the caller. It splits an existing child's edge at the point key and
// that child first diverge, inserting a branch node there when needed.
func insertInto(n *trieNode, key string, kind Kind, canon string) {
	if key == "" {
		n.terminal = true
		n.kind = kind
		n.canon = canon
		return
	}
	c := key[0]
	child, ok := n.children[c]
	if !ok {
		leaf := newTrieNode(key)
		leaf.terminal = true
		leaf.kind = kind
		leaf.canon = canon
		n.children[c] = leaf
		return
	}

	cp := commonPrefixLen(child.edge, key)
	if cp == len(child.edge) {
		insertInto(child, key[cp:], kind, canon)
		return
	}

	split := newTrieNode(child.edge[:cp])
	child.edge = child.edge[cp:]
	split.children[child.edge[0]] = child
	n.children[c] = split

	if cp == len(key) {
		split.terminal = true
		split.kind = kind
		split.canon = canon
		return
	}
	rest := key[cp:]
	leaf := newTrieNode(rest)
	leaf.terminal = true
	leaf.kind = kind
	leaf.canon = canon
	split.children[rest[0]] = leaf
}

// lookup walks the trie following whichever edges the remaining suffix of
// name matches, jumping multiple bytes at a time along unbranched edges.
func (t *trie) lookup(name string) (kind Kind, canon string, ok bool) {
	n := t.root
	s := name
	for {
		if s == "" {
			return n.kind, n.canon, n.terminal
		}
		child, found := n.children[s[0]]
		if !found || !strings.HasPrefix(s, child.edge) {
			return 0, "", false
		}
		s = s[len(child.edge):]
		n = child
	}
}

var globalTrie = buildTrie()

func buildTrie() *trie {
	t := newTrie()
	for _, kw := range structuralKeywords {
		t.insert(kw, KindStructural, kw)
	}
	for name, kind := range opcodeNames() {
		t.insert(name, kind, name)
	}
	for alias, canon := range legacyAliases {
		kind, _, ok := t.lookup(canon)
		if !ok {
			// canon must already be one of the opcode tables; if it
			// isn't, the alias table has a typo worth fixing.
			continue
		}
		t.insert(alias, kind, canon)
	}
	return t
}

// Classify reports whether name is a recognized keyword or opcode mnemonic
// (in either its canonical or a legacy spelling), the category it falls
// into, and its canonical spelling (identical to name unless name is a
// legacy alias).
func Classify(name string) (kind Kind, canonical string, ok bool) {
	return globalTrie.lookup(name)
}

// IsKeyword reports whether name is recognized at all, without the caller
// needing to unpack the Kind/canonical-spelling pair.
func IsKeyword(name string) bool {
	_, _, ok := globalTrie.lookup(name)
	return ok
}
