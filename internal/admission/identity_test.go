// SPDX-License-Identifier: MIT

package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityKey(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want string
	}{
		{
			name: "kind and target",
			id:   Identity{Kind: "import_recipe", Target: "https://example.com/stew"},
			want: "import_recipe:https://example.com/stew",
		},
		{
			name: "fingerprint appended",
			id:   Identity{Kind: "sync_caldav", Target: "house-1", Fingerprint: "2026-08-21T14:00"},
			want: "sync_caldav:house-1:2026-08-21T14:00",
		},
		{
			name: "empty fingerprint omitted",
			id:   Identity{Kind: "import_image", Target: "abc"},
			want: "import_image:abc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.id.Key())
		})
	}
}

func TestIdentityValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      Identity
		wantErr bool
	}{
		{name: "valid", id: Identity{Kind: "import_recipe", Target: "x"}},
		{name: "missing kind", id: Identity{Target: "x"}, wantErr: true},
		{name: "missing target", id: Identity{Kind: "import_recipe"}, wantErr: true},
		{name: "colon in kind", id: Identity{Kind: "import:recipe", Target: "x"}, wantErr: true},
		{name: "space in kind", id: Identity{Kind: "import recipe", Target: "x"}, wantErr: true},
		{name: "tab in kind", id: Identity{Kind: "import\trecipe", Target: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
