package cli

import "testing"

func TestCommandTreeResolvesLongForms(t *testing.T) {
	root := newRootCommand(&App{})

	cases := []struct {
		args []string
		want string
	}{
		{[]string{"list-workflows"}, "list"},
		{[]string{"get-workflow", "some-id"}, "get"},
		{[]string{"stop-workflow", "some-id"}, "stop"},
		{[]string{"list"}, "list"},
		{[]string{"get", "some-id"}, "get"},
		{[]string{"stop", "some-id"}, "stop"},
		{[]string{"stop-all"}, "stop-all"},
		{[]string{"health"}, "health"},
		{[]string{"monitor"}, "monitor"},
	}
	for _, tc := range cases {
		cmd, _, err := root.Find(tc.args)
		if err != nil {
			t.Fatalf("Find(%v): %v", tc.args, err)
		}
		if cmd.Name() != tc.want {
			t.Errorf("Find(%v) resolved to %q, want %q", tc.args, cmd.Name(), tc.want)
		}
	}
}
