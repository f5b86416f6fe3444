package session

import "testing"

func TestStatus_Terminal(t *testing.T) {
	terminal := []Status{StatusEnded, StatusRejected, StatusCanceled, StatusNotAnswered, StatusInterrupted}
	for _, st := range terminal {
		if !st.Terminal() {
			t.Fatalf("expected %q to be terminal", st)
		}
		if st.Active() {
			t.Fatalf("expected %q to be inactive", st)
		}
	}

	active := []Status{StatusRinging, StatusAccepted, StatusConnecting, StatusPaymentPending, StatusOngoing}
	for _, st := range active {
		if st.Terminal() {
			t.Fatalf("expected %q to be non-terminal", st)
		}
		if !st.Active() {
			t.Fatalf("expected %q to be active", st)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusRinging, StatusAccepted, true},
		{StatusRinging, StatusRejected, true},
		{StatusRinging, StatusCanceled, true},
		{StatusRinging, StatusNotAnswered, true},
		{StatusRinging, StatusOngoing, false},
		{StatusAccepted, StatusConnecting, true},
		{StatusAccepted, StatusPaymentPending, true},
		{StatusConnecting, StatusOngoing, true},
		{StatusPaymentPending, StatusConnecting, true},
		{StatusPaymentPending, StatusCanceled, true},
		{StatusOngoing, StatusEnded, true},
		{StatusOngoing, StatusInterrupted, true},
		{StatusOngoing, StatusRinging, false},
		// terminal statuses never leave
		{StatusEnded, StatusOngoing, false},
		{StatusRejected, StatusRinging, false},
		{StatusInterrupted, StatusOngoing, false},
		{StatusNotAnswered, StatusAccepted, false},
		{StatusCanceled, StatusRinging, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Fatalf("CanTransition(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestSession_Counterparty(t *testing.T) {
	s := Session{ClientID: "c1", ExpertID: "e1"}
	if got := s.Counterparty("c1"); got != "e1" {
		t.Fatalf("expected e1, got %q", got)
	}
	if got := s.Counterparty("e1"); got != "c1" {
		t.Fatalf("expected c1, got %q", got)
	}
	if got := s.Counterparty("stranger"); got != "" {
		t.Fatalf("expected empty counterparty, got %q", got)
	}
	if s.HasParticipant("stranger") {
		t.Fatalf("stranger must not be a participant")
	}
}

func TestType_Valid(t *testing.T) {
	for _, ct := range []Type{TypeAudio, TypeVideo, TypeChat} {
		if !ct.Valid() {
			t.Fatalf("expected %q valid", ct)
		}
	}
	if Type("fax").Valid() {
		t.Fatalf("expected fax invalid")
	}
}
