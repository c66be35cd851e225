package analyzer

import "testing"

func TestAnalyzeEmptySample(t *testing.T) {
	result := Analyze(nil)
	if result.Verdict != "poor" {
		t.Errorf("empty sample verdict = %q, want poor", result.Verdict)
	}
}

func TestAnalyzeLowEntropyTokens(t *testing.T) {
	tokens := []string{"aaaaaaaa", "aaaaaaab", "aaaaaaac"}
	result := Analyze(tokens)
	if result.Verdict != "poor" {
		t.Errorf("near-constant tokens verdict = %q, want poor", result.Verdict)
	}
	if result.LongestCommonPrefix != 7 {
		t.Errorf("LongestCommonPrefix = %d, want 7", result.LongestCommonPrefix)
	}
}

func TestAnalyzeHighEntropyTokens(t *testing.T) {
	tokens := []string{
		"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		"3e23e8160039594a33894f6564e1b1348bbd7a0088d42c4acb73eeaed59c009",
		"2c624232cdd221771294dfbb310aca000a0df6ac8b66b696d90ef06fdefb64a",
	}
	result := Analyze(tokens)
	if result.Verdict == "poor" {
		t.Errorf("high-entropy hex tokens should not verdict poor, got effective bits %.1f", result.EffectiveBits)
	}
}

func TestCommonPrefixSuffix(t *testing.T) {
	tokens := []string{"sess_abc123_end", "sess_xyz789_end"}
	result := Analyze(tokens)
	if result.LongestCommonPrefix != len("sess_") {
		t.Errorf("LongestCommonPrefix = %d, want %d", result.LongestCommonPrefix, len("sess_"))
	}
	if result.LongestCommonSuffix != len("_end") {
		t.Errorf("LongestCommonSuffix = %d, want %d", result.LongestCommonSuffix, len("_end"))
	}
}
