package logging

import "testing"

func TestMaskField(t *testing.T) {
	if got := MaskField("secret", "deadbeef"); got.Value.String() != RedactedValue {
		t.Fatalf("secret not redacted: %v", got.Value.String())
	}
	if got := MaskField("swap_secret_hex", "deadbeef"); got.Value.String() != RedactedValue {
		t.Fatalf("substring match not redacted: %v", got.Value.String())
	}
	if got := MaskField("hashlock", "cafebabe"); got.Value.String() != "cafebabe" {
		t.Fatalf("hashlock should pass through: %v", got.Value.String())
	}
	if got := MaskField("secret", ""); got.Value.String() != "" {
		t.Fatalf("empty value should pass through")
	}
}

func TestIsSensitive(t *testing.T) {
	for _, key := range []string{"secret", "Preimage", " KEY_HEX ", "privateKey"} {
		if !IsSensitive(key) {
			t.Fatalf("expected %q to be sensitive", key)
		}
	}
	for _, key := range []string{"hashlock", "order_id", "vault"} {
		if IsSensitive(key) {
			t.Fatalf("expected %q to pass", key)
		}
	}
}
