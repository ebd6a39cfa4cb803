package cgroup

import "testing"

func TestUnitNameFromPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{
			path: "/sys/fs/cgroup/user.slice/user-1000.slice/user@1000.service/app.slice/org.example.Editor.service",
			want: "org.example.Editor.service",
		},
		{
			path: "/sys/fs/cgroup/user.slice/user-1000.slice/user@1000.service/app.slice/app-foo.scope",
			want: "app-foo.scope",
		},
		{
			path: "/sys/fs/cgroup/user.slice/user-1000.slice/user@1000.service/app.slice/_escaped.service",
			want: "escaped.service",
		},
		{
			path: "/sys/fs/cgroup/user.slice/user-1000.slice/user@1000.service/app.slice",
			want: "",
		},
		{
			path: "/sys/fs/cgroup/system.slice/foo.service",
			want: "",
		},
	}

	for _, tc := range cases {
		if got := UnitNameFromPath(tc.path); got != tc.want {
			t.Errorf("UnitNameFromPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestIsAppLeafCandidate(t *testing.T) {
	root := AppSlicePath(1000)
	root = "/sys/fs/cgroup/" + root

	if IsAppLeafCandidate(root, root) {
		t.Error("the slice root itself must not be a leaf candidate")
	}

	if IsAppLeafCandidate(root, root+"/sub.slice") {
		t.Error("a nested slice must not be a leaf candidate")
	}

	if !IsAppLeafCandidate(root, root+"/org.example.Editor.service") {
		t.Error("a unit directly under the slice root must be a leaf candidate")
	}

	if IsAppLeafCandidate(root, "/sys/fs/cgroup/system.slice/foo.service") {
		t.Error("a path outside the slice root must not be a leaf candidate")
	}
}

func TestUserPaths(t *testing.T) {
	if got, want := UserSlicePath(1000), "user.slice/user-1000.slice"; got != want {
		t.Errorf("UserSlicePath() = %q, want %q", got, want)
	}

	if got, want := UserServicePath(1000), "user.slice/user-1000.slice/user@1000.service"; got != want {
		t.Errorf("UserServicePath() = %q, want %q", got, want)
	}

	if got, want := AppSlicePath(1000), "user.slice/user-1000.slice/user@1000.service/app.slice"; got != want {
		t.Errorf("AppSlicePath() = %q, want %q", got, want)
	}
}
