// trie.go — operator trie for greedy (maximal munch) matching.
//
// The trie is built once from the precedence table plus the assignment
// family and is immutable afterwards.
package lython

import "sync"

type trieNode struct {
	children map[byte]*trieNode
	terminal bool
	tokType  TokenType
}

func newTrieNode() *trieNode { return &trieNode{children: map[byte]*trieNode{}} }

func (t *trieNode) insert(s string, tt TokenType) {
	cur := t
	for i := 0; i < len(s); i++ {
		next, ok := cur.children[s[i]]
		if !ok {
			next = newTrieNode()
			cur.children[s[i]] = next
		}
		cur = next
	}
	cur.terminal = true
	cur.tokType = tt
}

// Matching steps the trie by one character; nil means no operator continues
// with c.
func (t *trieNode) Matching(c byte) *trieNode { return t.children[c] }

var (
	opTrie     *trieNode
	opTrieOnce sync.Once
)

// operatorTrie returns the shared operator trie, building it on first use.
func operatorTrie() *trieNode {
	opTrieOnce.Do(func() {
		opTrie = newTrieNode()
		for spelling := range precedenceTable {
			// keyword operators are matched by the identifier scanner
			if spelling[0] >= 'a' && spelling[0] <= 'z' {
				continue
			}
			opTrie.insert(spelling, TokOp)
		}
		opTrie.insert("~", TokOp)
		for _, s := range augSpellings {
			opTrie.insert(s, TokAug)
		}
		opTrie.insert("->", TokArrow)
		opTrie.insert("=", TokAssign)
		opTrie.insert(":=", TokWalrus)
		opTrie.insert(":", TokColon)
		opTrie.insert(";", TokSemi)
		opTrie.insert(",", TokComma)
		opTrie.insert("(", TokLParen)
		opTrie.insert(")", TokRParen)
		opTrie.insert("[", TokLSquare)
		opTrie.insert("]", TokRSquare)
		opTrie.insert("{", TokLBrace)
		opTrie.insert("}", TokRBrace)
		opTrie.insert(".", TokDot)
	})
	return opTrie
}
