package robotics

import "testing"

func TestParseProgram_OpcodeAliasesAndModifiers(t *testing.T) {
	controls, err := ParseProgram("sel a0; mv 800 300 int; w 2000 !")
	if err != nil {
		t.Fatalf("ParseProgram: %v", err)
	}
	if len(controls) != 3 {
		t.Fatalf("got %d controls, want 3", len(controls))
	}
	if controls[0].Opcode != OpSelect || controls[0].Args[0] != "A0" {
		t.Fatalf("control 0: %+v", controls[0])
	}
	if controls[1].Opcode != OpMove || !controls[1].Interruptible || controls[1].Args[0] != "800" || controls[1].Args[1] != "300" {
		t.Fatalf("control 1: %+v", controls[1])
	}
	if controls[2].Opcode != OpWait || !controls[2].Commit || controls[2].Args[0] != "2000" {
		t.Fatalf("control 2: %+v", controls[2])
	}
}

func TestParseProgram_UnknownOpcode(t *testing.T) {
	if _, err := ParseProgram("NOPE 1 2"); err == nil {
		t.Fatal("expected an error for an unknown opcode")
	}
}

func TestParseProgram_MissingArgsIsMalformed(t *testing.T) {
	if _, err := ParseProgram("MV 800"); err == nil {
		t.Fatal("expected an error for a missing MV speed argument")
	}
}

func TestParseProgram_SelectSubComponent(t *testing.T) {
	controls, err := ParseProgram("SEL A0:1")
	if err != nil {
		t.Fatalf("ParseProgram: %v", err)
	}
	device, sub, hasSub := controls[0].SelectTarget()
	if device != "A0" || sub != "1" || !hasSub {
		t.Fatalf("SelectTarget() = %q, %q, %v", device, sub, hasSub)
	}
}

func TestParseProgram_IgnoresBlankControls(t *testing.T) {
	controls, err := ParseProgram("SEL A0;; MV 800 300 ;")
	if err != nil {
		t.Fatalf("ParseProgram: %v", err)
	}
	if len(controls) != 2 {
		t.Fatalf("got %d controls, want 2: %+v", len(controls), controls)
	}
}
