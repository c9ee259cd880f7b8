package registry

import "testing"

func TestRegisterAndGet(t *testing.T) {
	r := NewInMemoryToolRegistry()
	if err := r.Register(ToolMetadata{ID: "echo", Name: "Echo"}, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	meta, _, err := r.Get("echo")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if meta.Name != "Echo" {
		t.Errorf("expected name Echo, got %s", meta.Name)
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := NewInMemoryToolRegistry()
	if err := r.Register(ToolMetadata{ID: "echo"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ToolMetadata{ID: "echo"}, nil); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestUnregisterRemovesTool(t *testing.T) {
	r := NewInMemoryToolRegistry()
	_ = r.Register(ToolMetadata{ID: "echo"}, nil)
	if err := r.Unregister("echo"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if _, _, err := r.Get("echo"); err == nil {
		t.Fatal("expected Get to fail after Unregister")
	}
}

func TestSearchMatchesNameAndDescription(t *testing.T) {
	r := NewInMemoryToolRegistry()
	_ = r.Register(ToolMetadata{ID: "file.read", Name: "Read File", Description: "reads file contents"}, nil)
	_ = r.Register(ToolMetadata{ID: "net.fetch", Name: "Fetch URL", Description: "http GET"}, nil)

	results := r.Search("file")
	if len(results) != 1 || results[0].ID != "file.read" {
		t.Fatalf("expected 1 match for 'file', got %+v", results)
	}
}

func TestListFilter(t *testing.T) {
	r := NewInMemoryToolRegistry()
	_ = r.Register(ToolMetadata{ID: "a", Category: "io"}, nil)
	_ = r.Register(ToolMetadata{ID: "b", Category: "net"}, nil)

	io := r.List(func(m ToolMetadata) bool { return m.Category == "io" })
	if len(io) != 1 || io[0].ID != "a" {
		t.Fatalf("expected 1 io tool, got %+v", io)
	}
}
