package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestOnceWarnsOncePerKey(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{log.New(&buf, "[test] ", 0)}

	var o Once
	o.Warn(l, "op-90", "unsupported opcode %x", 0x90)
	o.Warn(l, "op-90", "unsupported opcode %x", 0x90)
	o.Warn(l, "op-f4", "unsupported opcode %x", 0xF4)

	out := buf.String()
	if strings.Count(out, "unsupported opcode 90") != 1 {
		t.Fatalf("key op-90 logged %d times:\n%s", strings.Count(out, "unsupported opcode 90"), out)
	}
	if strings.Count(out, "unsupported opcode f4") != 1 {
		t.Fatalf("key op-f4 missing:\n%s", out)
	}
}
