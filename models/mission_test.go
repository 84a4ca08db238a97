package models

import "testing"

func TestNormalizeLegacyStatus(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"OPEN", MissionStatusOpen, true},
		{"PENDING_VALIDATION", MissionStatusPendingValidation, true},
		{"open", MissionStatusOpen, true},
		{"assigned", MissionStatusLocked, true},
		{"completed", MissionStatusCompleted, true},
		{"cancelled", MissionStatusCancelled, true},
		{"negotiating", "", false},
		{"bogus", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeLegacyStatus(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("NormalizeLegacyStatus(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestMissionIsTerminal(t *testing.T) {
	for _, status := range []string{MissionStatusCompleted, MissionStatusCancelled} {
		m := Mission{Status: status}
		if !m.IsTerminal() {
			t.Errorf("%s not reported terminal", status)
		}
	}
	for _, status := range []string{MissionStatusOpen, MissionStatusDisputed, MissionStatusPendingValidation} {
		m := Mission{Status: status}
		if m.IsTerminal() {
			t.Errorf("%s reported terminal", status)
		}
	}
}
