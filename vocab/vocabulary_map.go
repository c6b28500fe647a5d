// vocabulary_map.go - N-Gramm-Regelwerk fuer Kandidaten-Vokabulare
//
// Eine Liste, indiziert nach N-Gramm-Groesse n (1-basiert), von
// Abbildungen aus einem mit Leerzeichen verbundenen Quell-n-Gramm-String
// auf eine Liste von Ziel-Token-IDs. fixed_candidates wird einmalig aus
// den vier Sondertoken plus den unter dem leeren Schluessel im
// Unigramm-Regelwerk gelisteten IDs berechnet.
package vocab

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// VocabularyMap restricts the decoder's output vocabulary to ids
// reachable from the source tokens of a batch.
type VocabularyMap struct {
	rules           []map[string][]int32 // rules[n-1]: n-gram rules
	fixedCandidates []int32
}

// NewVocabularyMap builds a map from ngram-size rule tables; rules[0]
// holds unigram rules, whose empty-key entry seeds fixedCandidates
// alongside the four special token ids.
func NewVocabularyMap(rules []map[string][]int32) *VocabularyMap {
	fixed := map[int32]struct{}{
		BlankID: {}, UnkID: {}, BosID: {}, EosID: {},
	}
	if len(rules) > 0 {
		for _, id := range rules[0][""] {
			fixed[id] = struct{}{}
		}
	}
	vm := &VocabularyMap{rules: rules}
	vm.fixedCandidates = sortedKeys(fixed)
	return vm
}

// LoadMap parses a vocabulary map file: one rule per line,
// "src_ngram\ttgt_tok1 tgt_tok2 ...", where an empty source key marks
// always-eligible target tokens. Target tokens are resolved to ids via
// target.
func LoadMap(r io.Reader, target *Vocabulary) (*VocabularyMap, error) {
	var rules []map[string][]int32
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("vocab: malformed vocabulary map line %q", line)
		}
		key := parts[0]
		targetTokens := strings.Fields(parts[1])
		ids := target.ToIDs(targetTokens)

		n := 1
		if key != "" {
			n = len(strings.Fields(key))
		}
		for len(rules) < n {
			rules = append(rules, make(map[string][]int32))
		}
		rules[n-1][key] = append(rules[n-1][key], ids...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: reading vocabulary map file: %w", err)
	}
	return NewVocabularyMap(rules), nil
}

// GetCandidates returns the sorted, duplicate-free union of
// fixedCandidates and every n-gram rule match across batchSourceTokens.
func (m *VocabularyMap) GetCandidates(batchSourceTokens [][]string) []int32 {
	seen := make(map[int32]struct{}, len(m.fixedCandidates))
	for _, id := range m.fixedCandidates {
		seen[id] = struct{}{}
	}

	for _, tokens := range batchSourceTokens {
		for n := 1; n <= len(m.rules); n++ {
			table := m.rules[n-1]
			if len(tokens) < n {
				continue
			}
			for start := 0; start+n <= len(tokens); start++ {
				key := strings.Join(tokens[start:start+n], " ")
				for _, id := range table[key] {
					seen[id] = struct{}{}
				}
			}
		}
	}
	return sortedKeys(seen)
}

// FixedCandidates returns the always-eligible ids computed at construction.
func (m *VocabularyMap) FixedCandidates() []int32 {
	return append([]int32(nil), m.fixedCandidates...)
}

func sortedKeys(set map[int32]struct{}) []int32 {
	ids := make([]int32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
