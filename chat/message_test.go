package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klipach/picchu/contract"
	"github.com/klipach/picchu/store"
	"github.com/klipach/picchu/store/memstore"
)

func TestPost(t *testing.T) {
	defer func() { now = time.Now }()
	now = func() time.Time { return *at(7) }

	tests := []struct {
		name    string
		from    string
		to      string
		body    string
		wantErr error
	}{
		{name: "ok", from: "u1", to: "u2", body: "hello"},
		{name: "blank body", from: "u1", to: "u2", body: "  \n", wantErr: ErrEmptyMessage},
		{name: "to self", from: "u1", to: "u1", body: "hello", wantErr: ErrSelfMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := memstore.New()

			posted, err := Post(ctx, mem, tt.from, tt.to, tt.body)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, posted.ID)

			doc, err := mem.Get(ctx, contract.MessagesCollection, posted.ID)
			require.NoError(t, err)
			stored, err := decodeMessage(doc)
			require.NoError(t, err)
			assert.Equal(t, tt.from, stored.Sender)
			assert.Equal(t, tt.to, stored.Receiver)
			assert.Equal(t, tt.body, stored.Body)
			assert.False(t, stored.Read)
			require.NotNil(t, stored.Timestamp)
			assert.True(t, at(7).Equal(*stored.Timestamp))
		})
	}
}

func TestPostStoreFailure(t *testing.T) {
	mem := memstore.New()
	_, err := Post(context.Background(), failingAddStore{mem}, "u1", "u2", "hello")
	assert.ErrorIs(t, err, store.ErrTransient)
}

type failingAddStore struct {
	*memstore.Memory
}

func (failingAddStore) Add(context.Context, string, any) (string, error) {
	return "", store.ErrTransient
}
