package analyzer

import "math"

// SequencerResult summarizes the randomness quality of a sample of
// tokens (session IDs, CSRF tokens, password-reset tokens) captured
// across repeated requests.
type SequencerResult struct {
	SampleCount     int
	CharacterCount  float64 // mean distinct characters observed per token
	ShannonEntropy  float64 // bits per character, averaged over the sample
	EffectiveBits   float64 // ShannonEntropy * mean token length
	LongestCommonPrefix int
	LongestCommonSuffix int
	Verdict         string // excellent | good | poor
}

// Analyze computes a SequencerResult over tokens. Empty or single-
// element samples return a zero-value result with Verdict "poor".
func Analyze(tokens []string) SequencerResult {
	if len(tokens) == 0 {
		return SequencerResult{Verdict: "poor"}
	}

	var totalChars, totalEntropy, totalLen float64
	for _, t := range tokens {
		freq := make(map[rune]int)
		for _, r := range t {
			freq[r]++
		}
		totalChars += float64(len(freq))
		totalEntropy += shannonEntropy(t, freq)
		totalLen += float64(len([]rune(t)))
	}
	n := float64(len(tokens))

	result := SequencerResult{
		SampleCount:    len(tokens),
		CharacterCount: totalChars / n,
		ShannonEntropy: totalEntropy / n,
		EffectiveBits:  (totalEntropy / n) * (totalLen / n),
		LongestCommonPrefix: commonPrefixLen(tokens),
		LongestCommonSuffix: commonSuffixLen(tokens),
	}
	result.Verdict = verdictFor(result.EffectiveBits)
	return result
}

func shannonEntropy(s string, freq map[rune]int) float64 {
	total := float64(len([]rune(s)))
	if total == 0 {
		return 0
	}
	var entropy float64
	for _, count := range freq {
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func commonPrefixLen(tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}
	prefix := []rune(tokens[0])
	for _, t := range tokens[1:] {
		r := []rune(t)
		max := len(prefix)
		if len(r) < max {
			max = len(r)
		}
		i := 0
		for i < max && prefix[i] == r[i] {
			i++
		}
		prefix = prefix[:i]
		if len(prefix) == 0 {
			break
		}
	}
	return len(prefix)
}

func commonSuffixLen(tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}
	reversed := make([]string, len(tokens))
	for i, t := range tokens {
		reversed[i] = reverseString(t)
	}
	return commonPrefixLen(reversed)
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// verdictFor maps effective entropy bits to a coarse randomness
// verdict: below 64 bits is crackable within a practical search
// budget, above 128 bits is comfortably unguessable.
func verdictFor(effectiveBits float64) string {
	switch {
	case effectiveBits >= 128:
		return "excellent"
	case effectiveBits >= 64:
		return "good"
	default:
		return "poor"
	}
}
