package domain

import "testing"

func TestEncodeParseRef(t *testing.T) {
	tests := []struct {
		tag ProviderTag
		id  string
		ref string
	}{
		{ProviderPercentProgress, "video_123", "pct:video_123"},
		{ProviderOperation, "models/veo-3.1-generate-preview/operations/abc", "op:models/veo-3.1-generate-preview/operations/abc"},
		{ProviderOperationChained, "models/veo/operations/x:y", "opc:models/veo/operations/x:y"},
		{ProviderTaskRatio, "5f1c", "task:5f1c"},
	}
	for _, tt := range tests {
		ref := EncodeRef(tt.tag, tt.id)
		if ref != tt.ref {
			t.Fatalf("EncodeRef(%s) = %q, want %q", tt.tag, ref, tt.ref)
		}
		tag, id, err := ParseRef(ref)
		if err != nil {
			t.Fatalf("ParseRef(%q): %v", ref, err)
		}
		if tag != tt.tag || id != tt.id {
			t.Fatalf("ParseRef(%q) = %s %q, want %s %q", ref, tag, id, tt.tag, tt.id)
		}
	}
}

func TestParseRefRejectsPendingAndMalformed(t *testing.T) {
	for _, ref := range []string{"", "nocolon", "pct:", "zzz:abc", PendingRef("op:abc")} {
		if _, _, err := ParseRef(ref); err == nil {
			t.Fatalf("ParseRef(%q) expected error", ref)
		}
	}
	if !IsPendingRef(PendingRef("op:abc")) {
		t.Fatalf("PendingRef should be recognised")
	}
	if IsPendingRef("op:abc") {
		t.Fatalf("plain ref flagged as pending")
	}
}
