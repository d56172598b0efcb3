package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/dxpops/conductor/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestStatic_Resolve(t *testing.T) {
	tenants := map[string]string{" proj-a ": "tenant-a", "blank": ""}

	tests := []struct {
		name     string
		strict   bool
		ref      string
		want     string
		wantCode apperrors.ErrorCode
	}{
		{name: "mapped", ref: "proj-a", want: "tenant-a"},
		{name: "unmapped passes through", ref: "proj-b", want: "proj-b"},
		{name: "unmapped strict", strict: true, ref: "proj-b", wantCode: apperrors.ErrCodeNotFound},
		{name: "blank mapping strict", strict: true, ref: "blank", wantCode: apperrors.ErrCodeNotFound},
		{name: "empty ref", ref: "  ", wantCode: apperrors.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStatic(tenants, tt.strict).Resolve(context.Background(), tt.ref)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCaching_Resolve(t *testing.T) {
	t.Run("caches successes", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		inner := mocks.NewMockCredentialResolver(ctrl)
		inner.EXPECT().Resolve(gomock.Any(), "proj-a").Return("tenant-a", nil).Times(1)
		c := NewCaching(inner, time.Minute, nil)

		for range 3 {
			got, err := c.Resolve(context.Background(), "proj-a")
			require.NoError(t, err)
			assert.Equal(t, "tenant-a", got)
		}
		assert.Equal(t, 1, c.Len())
	})

	t.Run("does not cache failures", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		inner := mocks.NewMockCredentialResolver(ctrl)
		gomock.InOrder(
			inner.EXPECT().Resolve(gomock.Any(), "proj-a").Return("", errors.New("vault unavailable")),
			inner.EXPECT().Resolve(gomock.Any(), "proj-a").Return("tenant-a", nil),
		)
		c := NewCaching(inner, time.Minute, nil)

		_, err := c.Resolve(context.Background(), "proj-a")
		require.Error(t, err)
		got, err := c.Resolve(context.Background(), "proj-a")
		require.NoError(t, err)
		assert.Equal(t, "tenant-a", got)
	})

	t.Run("expires and invalidates", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		inner := mocks.NewMockCredentialResolver(ctrl)
		inner.EXPECT().Resolve(gomock.Any(), "proj-a").Return("tenant-a", nil).Times(3)
		c := NewCaching(inner, 20*time.Millisecond, nil)

		_, err := c.Resolve(context.Background(), "proj-a")
		require.NoError(t, err)
		time.Sleep(40 * time.Millisecond)
		_, err = c.Resolve(context.Background(), "proj-a")
		require.NoError(t, err)

		c.Invalidate("proj-a")
		_, err = c.Resolve(context.Background(), "proj-a")
		require.NoError(t, err)
	})

	t.Run("collapses concurrent lookups", func(t *testing.T) {
		var calls atomic.Int32
		release := make(chan struct{})
		inner := resolverFunc(func(context.Context, string) (string, error) {
			calls.Add(1)
			<-release
			return "tenant-a", nil
		})
		c := NewCaching(inner, time.Minute, nil)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := c.Resolve(context.Background(), "proj-a")
				assert.NoError(t, err)
				assert.Equal(t, "tenant-a", got)
			}()
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
	})
}

type resolverFunc func(ctx context.Context, ref string) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, ref string) (string, error) { return f(ctx, ref) }
