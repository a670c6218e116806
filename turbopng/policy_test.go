package turbopng

import (
	"reflect"
	"testing"
)

func TestPolicyAllows(t *testing.T) {
	phys, text := chunkName("pHYs"), chunkName("tEXt")
	tests := []struct {
		policy MetadataPolicy
		phys   bool
		text   bool
	}{
		{MetadataPolicy{Kind: PolicyNone}, true, true},
		{MetadataPolicy{Kind: PolicySafe}, true, false},
		{KeepPolicy("tEXt"), false, true},
		{StripPolicy("tEXt"), true, false},
		{MetadataPolicy{Kind: PolicyAll}, false, false},
	}
	for _, tc := range tests {
		if got := tc.policy.Allows(phys); got != tc.phys {
			t.Errorf("%v: pHYs allowed=%v, expected %v", tc.policy, got, tc.phys)
		}
		if got := tc.policy.Allows(text); got != tc.text {
			t.Errorf("%v: tEXt allowed=%v, expected %v", tc.policy, got, tc.text)
		}
		// Evaluation is a pure function of the name.
		if tc.policy.Allows(text) != tc.policy.Allows(text) {
			t.Errorf("%v: inconsistent results", tc.policy)
		}
	}
}

func TestPolicyFor(t *testing.T) {
	if p := PolicyFor(true); p.Kind != PolicyNone {
		t.Errorf("keep metadata: got %v", p)
	}
	if p := PolicyFor(false); p.Kind != PolicySafe {
		t.Errorf("default: got %v", p)
	}
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"none", "safe", "all", "keep:tEXt,iTXt", "strip:eXIf"} {
		p, err := ParsePolicy(s)
		if err != nil {
			t.Errorf("%s: %v", s, err)
			continue
		}
		if p.String() != s && p.String() != "keep:iTXt,tEXt" {
			t.Errorf("%s: round trip gave %s", s, p)
		}
	}
	p, err := ParsePolicy("keep: tEXt , iTXt")
	if err != nil {
		t.Fatal(err)
	}
	expected := map[[4]byte]struct{}{chunkName("tEXt"): {}, chunkName("iTXt"): {}}
	if !reflect.DeepEqual(p.Names, expected) {
		t.Errorf("unexpected names: %v", p.Names)
	}
	for _, bad := range []string{"", "drop", "keep:text1", "strip:abc"} {
		if _, err := ParsePolicy(bad); err == nil {
			t.Errorf("%q: expected an error", bad)
		}
	}
}

// The chunk parser and the Optimizer must agree on which
// chunks PolicySafe keeps, or a chunk could survive one
// stage and be dropped by the other.
func TestSafeChunksMatchOptimizer(t *testing.T) {
	preserved := &PreservedChunks{
		BeforeImage: []RawChunk{
			testChunk("cICP", []byte{1, 13, 0, 1}),
			testChunk("iCCP", []byte("icc\x00\x00data")),
			testChunk("sRGB", []byte{0}),
			testChunk("pHYs", physData),
			testChunk("tEXt", []byte("Author\x00me")),
			testChunk("acTL", []byte{0, 0, 0, 1, 0, 0, 0, 0}),
			testChunk("fcTL", make([]byte, 26)),
			testChunk("gAMA", []byte{0, 0, 0xb1, 0x8f}),
		},
		AfterImage: []RawChunk{
			testChunk("fdAT", []byte{0, 0, 0, 2}),
			testChunk("eXIf", []byte("MM\x00*")),
		},
	}
	data := storedPNG(t, rgbaImage(4, 4, noisyPixels(4, 4)), preserved)

	opt := &Optimizer{Policy: MetadataPolicy{Kind: PolicySafe}}
	out, err := opt.Optimize(data)
	if err != nil {
		t.Fatal(err)
	}
	var kept []string
	for _, name := range listChunks(t, out) {
		switch name {
		case "IHDR", "PLTE", "tRNS", "IDAT", "IEND":
		default:
			kept = append(kept, name)
		}
	}
	var safe []string
	for _, name := range SafeChunks {
		safe = append(safe, string(name[:]))
	}
	if !reflect.DeepEqual(kept, safe) {
		t.Errorf("optimizer kept %v, safe list is %v", kept, safe)
	}

	parsed, err := ParseChunks(data, MetadataPolicy{Kind: PolicySafe})
	if err != nil {
		t.Fatal(err)
	}
	if got := append(chunkTags(parsed.BeforeImage), chunkTags(parsed.AfterImage)...); !reflect.DeepEqual(got, safe) {
		t.Errorf("parser kept %v, safe list is %v", got, safe)
	}
}
