package topup

import "testing"

func TestNullableString_Empty(t *testing.T) {
	if v := nullableString(""); v != nil {
		t.Errorf("nullableString(\"\") = %v, want nil", v)
	}
}

func TestNullableString_NonEmpty(t *testing.T) {
	v := nullableString("acct_123")
	s, ok := v.(string)
	if !ok || s != "acct_123" {
		t.Errorf("nullableString(\"acct_123\") = %v, want \"acct_123\"", v)
	}
}
