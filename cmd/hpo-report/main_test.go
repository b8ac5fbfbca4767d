package main

import "testing"

func TestParseReports(t *testing.T) {
	got, err := parseReports([]string{"0=0.5", " 3 = 1e-2"})
	if err != nil {
		t.Fatalf("parseReports() err=%v", err)
	}
	if len(got) != 2 || got[0].Step != 0 || got[0].Value != 0.5 || got[1].Step != 3 || got[1].Value != 0.01 {
		t.Fatalf("parseReports()=%v", got)
	}

	for _, bad := range []string{"1", "-1=2", "x=1", "1=y"} {
		if _, err := parseReports([]string{bad}); err == nil {
			t.Fatalf("parseReports(%q) err=nil, want error", bad)
		}
	}
}
