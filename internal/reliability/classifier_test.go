package reliability

import "testing"

func TestCloseClass(t *testing.T) {
	cases := map[int]string{
		1000: "normal",
		1001: "normal",
		1006: "abnormal",
		1005: "abnormal",
		1008: "rejected",
		1009: "rejected",
		1011: "server_error",
		1013: "server_error",
		4003: "application",
		1015: "other",
	}
	for code, want := range cases {
		if got := CloseClass(code); got != want {
			t.Fatalf("CloseClass(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestIsExpectedClose(t *testing.T) {
	if !IsExpectedClose(1000) {
		t.Fatalf("1000 should be expected")
	}
	if IsExpectedClose(1006) {
		t.Fatalf("1006 should not be expected")
	}
}
