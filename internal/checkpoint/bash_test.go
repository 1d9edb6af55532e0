package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommands_Chain(t *testing.T) {
	commands, err := ParseCommands("git add . && git commit -m 'message' | tee log.txt")
	require.NoError(t, err)
	require.Len(t, commands, 3)

	assert.Equal(t, "git", commands[0].Name)
	assert.Equal(t, "add", commands[0].Subcommand)
	assert.Equal(t, "commit", commands[1].Subcommand)
	assert.Equal(t, []string{"-m", "message"}, commands[1].Args)
	assert.Equal(t, "tee", commands[2].Name)
}

func TestParseCommands_Sudo(t *testing.T) {
	commands, err := ParseCommands("sudo rm -rf /tmp/x")
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "rm", commands[0].Name)
	assert.Equal(t, []string{"/tmp/x"}, commands[0].Paths())
}

func TestParseCommands_Invalid(t *testing.T) {
	_, err := ParseCommands("echo 'unterminated")
	assert.Error(t, err)
}

func TestIsDestructiveLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"ls -la", false},
		{"go test ./...", false},
		{"cat a.txt | grep foo", false},
		{"git status", false},
		{"git diff HEAD~1", false},
		{"rm -rf build", true},
		{"mv a.go b.go", true},
		{"cp -r src dst", true},
		{"git reset --hard HEAD", true},
		{"git checkout -- file.go", true},
		{"sed -i 's/a/b/' main.go", true},
		{"sed 's/a/b/' main.go", false},
		{"find . -name '*.tmp' -delete", true},
		{"echo $(rm x)", true},
		{"if true; then", true}, // unparseable
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDestructiveLine(tt.line))
		})
	}
}

func TestCommandPaths(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"rm -f a.txt b.txt", []string{"a.txt", "b.txt"}},
		{"chmod 755 run.sh", []string{"run.sh"}},
		{"chown -R me:me dir", []string{"dir"}},
		{"dd if=/dev/zero of=disk.img bs=1M", []string{"disk.img"}},
		{"rm $TARGET", nil},
		{"ls a b", nil},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			commands, err := ParseCommands(tt.line)
			require.NoError(t, err)
			require.Len(t, commands, 1)
			assert.Equal(t, tt.want, commands[0].Paths())
		})
	}
}

func TestLineStats(t *testing.T) {
	add, del := lineStats("a\nb\nc\n", "a\nB\nc\nd\n")
	assert.Equal(t, 2, add)
	assert.Equal(t, 1, del)

	add, del = lineStats("", "one\ntwo")
	assert.Equal(t, 2, add)
	assert.Equal(t, 0, del)

	add, del = lineStats("same\n", "same\n")
	assert.Zero(t, add)
	assert.Zero(t, del)
}
