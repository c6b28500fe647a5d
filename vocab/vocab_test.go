package vocab

import (
	"strings"
	"testing"
)

func testTokens() []string {
	return []string{"<blank>", "<unk>", "<s>", "</s>", "hello", "world"}
}

func TestNewRejectsMissingSpecialTokens(t *testing.T) {
	if _, err := New([]string{"hello", "world"}); err == nil {
		t.Fatalf("expected error when special tokens are missing")
	}
}

func TestToIDRoundTripsInVocabularyTokens(t *testing.T) {
	v, err := New(testTokens())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if id := v.ToID("hello"); id != 4 {
		t.Fatalf("ToID(hello) = %d, want 4", id)
	}
	if tok := v.ToToken(4); tok != "hello" {
		t.Fatalf("ToToken(4) = %q, want hello", tok)
	}
}

func TestToIDOutOfVocabularyReturnsUnk(t *testing.T) {
	v, err := New(testTokens())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if id := v.ToID("unseen"); id != UnkID {
		t.Fatalf("ToID(unseen) = %d, want %d", id, UnkID)
	}
	if tok := v.ToToken(999); tok != "<unk>" {
		t.Fatalf("ToToken(999) = %q, want <unk>", tok)
	}
}

func TestToIDsToTokensRoundTrip(t *testing.T) {
	v, err := New(testTokens())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ids := v.ToIDs([]string{"hello", "world"})
	tokens := v.ToTokens(ids)
	if strings.Join(tokens, " ") != "hello world" {
		t.Fatalf("round trip = %v, want [hello world]", tokens)
	}
}

func TestLoadReadsOneTokenPerLine(t *testing.T) {
	r := strings.NewReader("<blank>\n<unk>\n<s>\n</s>\nfoo\nbar\n")
	v, err := Load(r)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v.Size() != 6 {
		t.Fatalf("size = %d, want 6", v.Size())
	}
	if v.ToID("bar") != 5 {
		t.Fatalf("ToID(bar) = %d, want 5", v.ToID("bar"))
	}
}

func TestVocabularyMapFixedCandidatesIncludesSpecialTokensAndEmptyKeyRule(t *testing.T) {
	rules := []map[string][]int32{
		{"": {10, 11}, "hello": {20}},
	}
	vm := NewVocabularyMap(rules)
	fixed := vm.FixedCandidates()

	want := map[int32]bool{BlankID: true, UnkID: true, BosID: true, EosID: true, 10: true, 11: true}
	if len(fixed) != len(want) {
		t.Fatalf("fixed candidates = %v, want %d entries", fixed, len(want))
	}
	for _, id := range fixed {
		if !want[id] {
			t.Fatalf("unexpected fixed candidate %d", id)
		}
	}
}

func TestVocabularyMapGetCandidatesIsSupersetOfFixedAndSorted(t *testing.T) {
	rules := []map[string][]int32{
		{"": {10}, "hello": {20}},
		{"hello world": {30}},
	}
	vm := NewVocabularyMap(rules)
	candidates := vm.GetCandidates([][]string{{"hello", "world"}})

	fixedSet := map[int32]bool{}
	for _, id := range vm.FixedCandidates() {
		fixedSet[id] = true
	}
	for id := range fixedSet {
		found := false
		for _, c := range candidates {
			if c == id {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("fixed candidate %d missing from get_candidates result %v", id, candidates)
		}
	}

	for _, wantID := range []int32{20, 30} {
		found := false
		for _, c := range candidates {
			if c == wantID {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected matched rule id %d in %v", wantID, candidates)
		}
	}

	for i := 1; i < len(candidates); i++ {
		if candidates[i] <= candidates[i-1] {
			t.Fatalf("candidates not strictly increasing (sorted+deduped): %v", candidates)
		}
	}
}

func TestLoadMapParsesTabSeparatedRules(t *testing.T) {
	target, err := New(testTokens())
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	r := strings.NewReader("\thello world\nhello\tworld\n")
	vm, err := LoadMap(r, target)
	if err != nil {
		t.Fatalf("load_map: %v", err)
	}
	fixed := vm.FixedCandidates()
	foundHello, foundWorld := false, false
	for _, id := range fixed {
		if id == target.ToID("hello") {
			foundHello = true
		}
		if id == target.ToID("world") {
			foundWorld = true
		}
	}
	if !foundHello || !foundWorld {
		t.Fatalf("expected empty-key rule targets in fixed candidates: %v", fixed)
	}

	candidates := vm.GetCandidates([][]string{{"hello"}})
	wantID := target.ToID("world")
	found := false
	for _, c := range candidates {
		if c == wantID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unigram rule match for %q in %v", "hello", candidates)
	}
}
