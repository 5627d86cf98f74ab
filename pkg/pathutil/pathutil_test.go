package pathutil

import "testing"

func TestRegisterAndResolve(t *testing.T) {
	r := NewResolver()
	rootID := r.Register("/home/user/proj")

	gotRootID, dbPath, err := r.Resolve("/home/user/proj/src/main.go")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if gotRootID != rootID {
		t.Errorf("Resolve() root_id = %q, want %q", gotRootID, rootID)
	}
	if dbPath != rootID+"/src/main.go" {
		t.Errorf("Resolve() db_path = %q", dbPath)
	}
}

func TestResolveUnknownPath(t *testing.T) {
	r := NewResolver()
	r.Register("/home/user/proj")

	if _, _, err := r.Resolve("/tmp/other/file.go"); err != ErrNoRoot {
		t.Errorf("Resolve() error = %v, want ErrNoRoot", err)
	}
}

func TestLongestPrefixWins(t *testing.T) {
	r := NewResolver()
	outer := r.Register("/home/user")
	inner := r.Register("/home/user/proj")

	gotRootID, dbPath, err := r.Resolve("/home/user/proj/a.py")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if gotRootID != inner {
		t.Errorf("Resolve() root_id = %q, want inner root %q", gotRootID, inner)
	}
	if dbPath != inner+"/a.py" {
		t.Errorf("Resolve() db_path = %q", dbPath)
	}

	gotRootID, dbPath, err = r.Resolve("/home/user/other.py")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if gotRootID != outer {
		t.Errorf("Resolve() root_id = %q, want outer root %q", gotRootID, outer)
	}
	if dbPath != outer+"/other.py" {
		t.Errorf("Resolve() db_path = %q", dbPath)
	}
}

func TestUnregister(t *testing.T) {
	r := NewResolver()
	rootID := r.Register("/home/user/proj")
	r.Unregister(rootID)

	if _, _, err := r.Resolve("/home/user/proj/a.py"); err != ErrNoRoot {
		t.Errorf("Resolve() after Unregister error = %v, want ErrNoRoot", err)
	}
}

func TestToFSPathRoundTrip(t *testing.T) {
	r := NewResolver()
	r.Register("/home/user/proj")

	_, dbPath, err := r.Resolve("/home/user/proj/a/b.py")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	fsPath, err := r.ToFSPath(dbPath)
	if err != nil {
		t.Fatalf("ToFSPath() error = %v", err)
	}
	if fsPath != "/home/user/proj/a/b.py" {
		t.Errorf("ToFSPath() = %q", fsPath)
	}
}

func TestIsSubpath(t *testing.T) {
	if !IsSubpath("/a/b", "/a/b/c") {
		t.Error("expected /a/b/c to be a subpath of /a/b")
	}
	if !IsSubpath("/a/b", "/a/b") {
		t.Error("expected a path to be a subpath of itself")
	}
	if IsSubpath("/a/b", "/a/bc") {
		t.Error("did not expect /a/bc to be a subpath of /a/b")
	}
}
