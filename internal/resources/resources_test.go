package resources

import (
	"io/fs"
	"testing"

	"dynmount/internal/mount"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedResourcesAreEmbedded(t *testing.T) {
	layout := mount.Layout{BaseDir: "/base", Namespace: "ns"}

	for _, res := range layout.SharedResources() {
		t.Run(res.Name, func(t *testing.T) {
			info, err := fs.Stat(FS(), res.Name)
			require.NoError(t, err)
			assert.True(t, info.Mode().IsRegular())
			assert.NotZero(t, info.Size())
		})
	}
}
