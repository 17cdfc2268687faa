package users

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPassword(t *testing.T) {
	t.Cleanup(func() {
		passwordFlag = ""
		stdinFlag = false
	})

	t.Run("flag", func(t *testing.T) {
		passwordFlag, stdinFlag = "secret", false
		got, err := readPassword(&cobra.Command{})
		require.NoError(t, err)
		assert.Equal(t, "secret", got)
	})

	t.Run("stdin takes the first line", func(t *testing.T) {
		passwordFlag, stdinFlag = "ignored", true
		cmd := &cobra.Command{}
		cmd.SetIn(strings.NewReader("from-stdin\nsecond\n"))
		got, err := readPassword(cmd)
		require.NoError(t, err)
		assert.Equal(t, "from-stdin", got)
	})

	t.Run("missing", func(t *testing.T) {
		passwordFlag, stdinFlag = "", false
		_, err := readPassword(&cobra.Command{})
		assert.ErrorContains(t, err, "password is required")
	})
}

func TestRealmDefaultsToPrimary(t *testing.T) {
	t.Cleanup(func() { realmFlag = "" })

	realmFlag = ""
	assert.Equal(t, "primary", realm())
	realmFlag = "partners"
	assert.Equal(t, "partners", realm())
}
