package transcript

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	turns := []Turn{
		{Learner, "I think remote work is better"},
		{Partner, "Why is that?"},
	}

	want := "Learner: I think remote work is better\nPartner: Why is that?"
	if got := Render(turns); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
	if Render(nil) != "" {
		t.Error("Render(nil) should be empty")
	}
}

func TestDecode(t *testing.T) {
	in := `[{"speaker":"user","text":"Hello"},{"speaker":"Partner","text":"Hi"},{"speaker":"learner","text":"Bye"}]`

	turns, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("len = %d", len(turns))
	}
	if turns[0].Speaker != Learner || turns[1].Speaker != Partner || turns[2].Speaker != Learner {
		t.Errorf("speakers = %v", turns)
	}

	learner, partner := Count(turns)
	if learner != 2 || partner != 1 {
		t.Errorf("Count() = %d, %d", learner, partner)
	}
}

func TestDecodeRejectsUnknownSpeaker(t *testing.T) {
	if _, err := Decode(strings.NewReader(`[{"speaker":"narrator","text":"x"}]`)); err == nil {
		t.Error("expected error for unknown speaker")
	}
}

func TestDecodeRejectsMissingSpeaker(t *testing.T) {
	tests := []string{
		`[{"text":"hello"}]`,
		`[{"speaker":"learner","text":"hi"},{"text":"hello"}]`,
	}
	for _, in := range tests {
		if _, err := Decode(strings.NewReader(in)); err == nil || !strings.Contains(err.Error(), "no speaker") {
			t.Errorf("Decode(%s) = %v, want missing speaker error", in, err)
		}
	}
}
