package component

import "testing"

func TestState_ReceptiveAndSatisfied(t *testing.T) {
	all := []State{
		StateDisabled, StateEnabled, StateUnsatisfied, StateActivating, StateRegistered,
		StateFactory, StateActive, StateDeactivating, StateDestroyed,
	}
	receptive := map[State]bool{
		StateUnsatisfied: true, StateActivating: true, StateActive: true, StateRegistered: true, StateFactory: true,
	}
	satisfied := map[State]bool{StateActive: true, StateRegistered: true, StateFactory: true}

	for _, s := range all {
		if got := s.Receptive(); got != receptive[s] {
			t.Errorf("%s.Receptive() = %v, want %v", s, got, receptive[s])
		}
		if got := s.Satisfied(); got != satisfied[s] {
			t.Errorf("%s.Satisfied() = %v, want %v", s, got, satisfied[s])
		}
		if s.String() == "unknown" {
			t.Errorf("state %d has no name", s)
		}
	}
}

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from   State
		ev     event
		to     State
		wantOK bool
	}{
		{StateDisabled, evEnable, StateEnabled, true},
		{StateEnabled, evEnable, StateEnabled, true},
		{StateEnabled, evUnsatisfied, StateUnsatisfied, true},
		{StateUnsatisfied, evActivate, StateActivating, true},
		{StateActivating, evActivated, StateActive, true},
		{StateActivating, evRegistered, StateRegistered, true},
		{StateActivating, evFactory, StateFactory, true},
		{StateActivating, evFailed, StateUnsatisfied, true},
		{StateRegistered, evCreate, StateActivating, true},
		{StateActivating, evCreateFailed, StateRegistered, true},
		{StateActive, evRelease, StateRegistered, true},
		{StateActive, evDeactivate, StateDeactivating, true},
		{StateDeactivating, evDeactivated, StateUnsatisfied, true},
		{StateUnsatisfied, evDisable, StateDisabled, true},

		{StateDisabled, evActivate, 0, false},
		{StateActive, evActivate, 0, false},
		{StateUnsatisfied, evDeactivate, 0, false},
		{StateDestroyed, evEnable, 0, false},
		{StateDestroyed, evDispose, 0, false},
	}

	for _, tt := range tests {
		to, ok := next(tt.from, tt.ev)
		if ok != tt.wantOK {
			t.Errorf("next(%s, %s) ok = %v, want %v", tt.from, tt.ev, ok, tt.wantOK)
			continue
		}
		if ok && to != tt.to {
			t.Errorf("next(%s, %s) = %s, want %s", tt.from, tt.ev, to, tt.to)
		}
	}
}

func TestState_DestroyedReachableFromEveryState(t *testing.T) {
	for s := range transitions {
		if s == StateDestroyed {
			continue
		}
		if to, ok := next(s, evDispose); !ok || to != StateDestroyed {
			t.Errorf("%s cannot be disposed", s)
		}
	}
}

func TestReason_String(t *testing.T) {
	if got := ReasonConfigurationDeleted.String(); got != "configuration_deleted" {
		t.Errorf("ReasonConfigurationDeleted.String() = %q", got)
	}
	if got := Reason(99).String(); got != "unspecified" {
		t.Errorf("Reason(99).String() = %q", got)
	}
}
