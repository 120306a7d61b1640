package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const helloRulebook = `
- name: hello
  hosts: all
  sources:
    - range:
        limit: "{{ limit }}"
  rules:
    - name: say hello
      condition: event.i == 1
      action:
        debug:
          msg: "hello {{ event.i }}"
    - name: say bye
      condition: event.i == 2
      action:
        debug:
          msg: bye
`

const brokenConditionRulebook = `
- name: broken
  hosts: all
  sources:
    - range:
        limit: 1
  rules:
    - name: bad
      condition: event.i ==
      action: debug
`

// writeFile creates dir/name with content and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// writeHello writes the hello rulebook and a vars file setting limit.
func writeHello(t *testing.T, dir string) (rulebookPath, varsPath string) {
	t.Helper()
	return writeFile(t, dir, "hello.yml", helloRulebook), writeFile(t, dir, "vars.yml", "limit: 3\n")
}

// execute runs cmd with args and returns its stdout and stderr.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
