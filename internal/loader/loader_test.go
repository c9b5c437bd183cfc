package loader

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenAndLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")
	img := []byte{0x90, 0xF4, 0x00}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if f.DefaultRIP() != 1 {
		t.Fatalf("entry = %d, want 1", f.DefaultRIP())
	}
	start, end, size := f.Layout()
	if start != 0 || end != pageSize || size != pageSize {
		t.Fatalf("layout = %d/%d/%d, want one page", start, end, size)
	}

	var loaded []byte
	err = f.LoadMemory(func(data []byte, off uint64) error {
		if off != 0 {
			t.Fatalf("load offset = %d", off)
		}
		loaded = data
		return nil
	})
	if err != nil || len(loaded) != len(img) {
		t.Fatalf("LoadMemory: %v, %d bytes", err, len(loaded))
	}
}

func TestOpenEntryBeyondImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")
	if err := os.WriteFile(path, []byte{0x90}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, 5); err == nil {
		t.Fatal("entry past image end accepted")
	}
}

func TestStackAlignment(t *testing.T) {
	f := &Flat{Image: []byte{0x90}, Stack: 1 << 16}
	rsp, err := f.SetupStack(0, 0x7000)
	if err != nil {
		t.Fatal(err)
	}
	if rsp%16 != 0 {
		t.Fatalf("RSP 0x%x not 16-byte aligned", rsp)
	}
	if rsp > 0x7000+(1<<16) {
		t.Fatalf("RSP 0x%x beyond stack top", rsp)
	}
}
