package resolver

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveReturnsAddresses(t *testing.T) {
	want := []netip.Addr{netip.MustParseAddr("93.184.216.34")}
	r := &netResolver{lookup: func(ctx context.Context, network, host string) ([]netip.Addr, error) {
		assert.Equal(t, "example.com", host)
		return want, nil
	}}

	got, err := r.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveWrapsLookupError(t *testing.T) {
	r := &netResolver{lookup: func(ctx context.Context, network, host string) ([]netip.Addr, error) {
		return nil, errors.New("no such host")
	}}

	_, err := r.Resolve(context.Background(), "nowhere.invalid")
	assert.Error(t, err)
}

func TestResolveEmptyResultIsError(t *testing.T) {
	r := &netResolver{lookup: func(ctx context.Context, network, host string) ([]netip.Addr, error) {
		return nil, nil
	}}

	_, err := r.Resolve(context.Background(), "example.com")
	assert.Error(t, err)
}
