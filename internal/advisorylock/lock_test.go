package advisorylock

import "testing"

func TestKeyForTextStable(t *testing.T) {
	a := KeyForText("user:42")
	b := KeyForText("user:42")
	if a != b {
		t.Fatalf("KeyForText not stable: %d != %d", a, b)
	}
	if KeyForText("user:42") == KeyForText("user:43") {
		t.Fatalf("KeyForText collided for distinct keys")
	}
}
